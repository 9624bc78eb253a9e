package security

import (
	"net/http"
	"net/url"
)

// InterstitialScript is the only inline script the bridge serves. It follows
// the "continue" link on the success page after a short delay.
const InterstitialScript = `(function(){var a=document.getElementById("continue");if(!a)return;setTimeout(function(){window.location.href=a.href;},500);})();`

// InterstitialScriptHash is the CSP source expression for InterstitialScript.
// Regenerate with:
//
//	echo -n '<script body>' | openssl dgst -sha256 -binary | base64
const InterstitialScriptHash = "sha256-aWOlNqebeXVtPTwZHqfWXhfMD3P0T6jE47e+Jkt03n8="

// SetSecurityHeaders sets the headers every bridge response carries.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	setCommonHeaders(w, issuer)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
}

// SetInterstitialSecurityHeaders sets headers for the bridge's HTML pages.
// Inline styles are allowed; the only script allowed is InterstitialScript.
func SetInterstitialSecurityHeaders(w http.ResponseWriter, issuer string) {
	setCommonHeaders(w, issuer)
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; script-src '"+InterstitialScriptHash+"'; style-src 'unsafe-inline'; base-uri 'none'; frame-ancestors 'none'")
}

func setCommonHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// responses carry frobs, codes and bearer tokens
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
