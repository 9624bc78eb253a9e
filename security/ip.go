package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPConfig controls how the caller's address is derived from a request.
type ClientIPConfig struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP. Leave it off unless
	// the bridge sits behind a reverse proxy that overwrites these headers.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies, counted from the right of
	// X-Forwarded-For, that belong to the deployment. Zero means one.
	TrustedProxyCount int
}

// ClientIP returns the address used for rate limiting and audit records.
func (c ClientIPConfig) ClientIP(r *http.Request) string {
	return GetClientIP(r, c.TrustProxy, c.TrustedProxyCount)
}

// GetClientIP extracts the client address from r.
//
// X-Forwarded-For reads as "client, proxy1, proxy2". Entries to the right
// of the client are skipped according to trustedProxyCount so that a client
// cannot choose its own address by prepending values.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}
	return parseIP(hops[idx])
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || net.ParseIP(s) == nil {
		return ""
	}
	return s
}
