package oauth

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/mcp-frob-oauth/security"
	"github.com/giantswarm/mcp-frob-oauth/server"
)

// URL schemes that browsers follow with a plain redirect
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// schemeToAppName maps custom URL schemes to human-readable application names.
var schemeToAppName = map[string]string{
	"cursor":   "Cursor",
	"vscode":   "Visual Studio Code",
	"code":     "Visual Studio Code",
	"codium":   "VSCodium",
	"claude":   "Claude",
	"raycast":  "Raycast",
	"warp":     "Warp",
	"zed":      "Zed",
	"windsurf": "Windsurf",
	"positron": "Positron",
}

// pageLayout wraps every page the bridge renders. The only script allowed by
// the page CSP is security.InterstitialScript, matched by hash.
const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #fff;
        }
        .container { text-align: center; padding: 2rem; max-width: 520px; }
        h1 { font-size: 1.75rem; font-weight: 600; margin-bottom: 0.75rem; }
        .message { color: rgba(255, 255, 255, 0.75); line-height: 1.6; margin-bottom: 1.5rem; }
        .app-name { color: #00d26a; font-weight: 500; }
        .button {
            display: inline-block;
            padding: 0.875rem 2rem;
            background: linear-gradient(135deg, #00d26a 0%, #00a855 100%);
            color: #fff;
            text-decoration: none;
            border-radius: 8px;
            font-weight: 500;
            font-size: 1rem;
            border: none;
            cursor: pointer;
            margin: 0.5rem;
        }
        .button.secondary { background: rgba(255, 255, 255, 0.12); }
        .hint { color: rgba(255, 255, 255, 0.5); font-size: 0.875rem; margin-top: 1rem; }
        ol { text-align: left; margin: 0 auto 1.5rem; max-width: 400px; line-height: 1.8; color: rgba(255, 255, 255, 0.85); }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
{{template "content" .}}
    </div>
</body>
</html>`

const waitingPage = `{{define "content"}}
        <ol>
            <li>Open the task service and allow access{{if .AppName}} for <span class="app-name">{{.AppName}}</span>{{end}}.</li>
            <li>Come back to this page and press the button below.</li>
        </ol>
        <a href="{{.AuthURL}}" class="button secondary" target="_blank" rel="noopener noreferrer">Open the task service</a>
        <form method="post" action="{{.CompleteURL}}">
            <input type="hidden" name="frob" value="{{.Frob}}">
            <button type="submit" class="button">I've authorized access</button>
        </form>
        <p class="hint">This request expires at {{.ExpiresAt}}.</p>
{{end}}`

const successPage = `{{define "content"}}
        <p class="message">You have been signed in.
            {{if .AppName}}Return to <span class="app-name">{{.AppName}}</span> to continue.{{else}}You can now return to the application.{{end}}</p>
        <a href="{{.RedirectURL}}" class="button" id="continue">{{if .AppName}}Open {{.AppName}}{{else}}Open Application{{end}}</a>
        <p class="hint">You can close this window after the application opens.</p>
    <script>` + security.InterstitialScript + `</script>
{{end}}`

const expiredPage = `{{define "content"}}
        <p class="message">{{.Message}}</p>
        <p class="hint">Sign-in requests are valid for {{.TTL}}.</p>
{{end}}`

const errorPage = `{{define "content"}}
        <p class="message">{{.Message}}</p>
        {{if .RetryURL}}<a href="{{.RetryURL}}" class="button">Try again</a>{{end}}
        {{if .AuthURL}}<a href="{{.AuthURL}}" class="button secondary" target="_blank" rel="noopener noreferrer">Open the task service</a>{{end}}
        {{if .RestartURL}}<a href="{{.RestartURL}}" class="button secondary">Start over</a>{{end}}
{{end}}`

var pageTemplates = map[string]*template.Template{
	"waiting": parsePage(waitingPage),
	"success": parsePage(successPage),
	"expired": parsePage(expiredPage),
	"error":   parsePage(errorPage),
}

func parsePage(content string) *template.Template {
	return template.Must(template.Must(template.New("layout").Parse(pageLayout)).Parse(content))
}

// pageData holds the values rendered into the bridge's pages. Unused fields
// stay empty.
type pageData struct {
	Title       string
	Message     string
	AppName     string
	Frob        string
	ExpiresAt   string
	TTL         string
	AuthURL     string
	CompleteURL string
	RetryURL    string
	RestartURL  string

	// RedirectURL may carry a custom scheme, which html/template would
	// otherwise replace with #ZgotmplZ. It has been validated before the
	// handoff was persisted.
	RedirectURL template.URL
}

// isCustomURLScheme reports whether uri uses a scheme other than http(s).
// Browsers often fail silently on a 302 to such schemes, so the client gets
// a success page with a link instead.
func isCustomURLScheme(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		return false
	}
	return scheme != ""
}

// appNameFromScheme derives a display name from a custom redirect scheme
func appNameFromScheme(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if name, ok := schemeToAppName[scheme]; ok {
		return name
	}
	if len(scheme) > 0 {
		return strings.ToUpper(scheme[:1]) + scheme[1:]
	}
	return ""
}

func (h *Handler) renderWaiting(w http.ResponseWriter, handoff *server.Handoff) {
	h.renderPage(w, "waiting", http.StatusOK, pageData{
		Title:       "Authorize access",
		AppName:     handoff.ClientName,
		Frob:        handoff.Frob,
		ExpiresAt:   handoff.ExpiresAt.UTC().Format(time.Kitchen + " MST"),
		AuthURL:     handoff.AuthURL,
		CompleteURL: h.endpoint(PathAuthorizeComplete),
	})
}

func (h *Handler) renderSuccess(w http.ResponseWriter, c *server.Completion) {
	h.renderPage(w, "success", http.StatusOK, pageData{
		Title:       "Authorization Successful",
		AppName:     appNameFromScheme(c.RedirectURL),
		RedirectURL: template.URL(c.RedirectURL), //nolint:gosec // validated at /authorize
	})
}

func (h *Handler) renderExpired(w http.ResponseWriter, c *server.Completion) {
	h.renderPage(w, "expired", http.StatusGone, pageData{
		Title:   "Sign-in expired",
		Message: c.Reason,
		TTL:     h.server.Config.PendingHandoffTTL.String(),
	})
}

func (h *Handler) renderError(w http.ResponseWriter, c *server.Completion) {
	data := pageData{
		Title:    "Sign-in not completed",
		Message:  c.Reason,
		AuthURL:  c.AuthURL,
		RetryURL: h.endpoint(PathAuthorizeComplete) + "?" + url.Values{"frob": {c.Frob}}.Encode(),
	}
	if c.Request != nil {
		data.RestartURL = h.endpoint(PathAuthorize) + "?" + c.Request.Query().Encode()
	}
	h.renderPage(w, "error", http.StatusBadGateway, data)
}

func (h *Handler) renderInvalidCompletion(w http.ResponseWriter, oauthErr *Error) {
	h.renderPage(w, "error", oauthErr.Status, pageData{
		Title:   "Sign-in not completed",
		Message: "This sign-in link is incomplete. Please start again from your application.",
	})
}

// renderPage executes a page into a buffer first so that a template failure
// never leaves a partial response.
func (h *Handler) renderPage(w http.ResponseWriter, name string, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplates[name].Execute(&buf, data); err != nil {
		h.logger.Error("Failed to render page", "page", name, "error", err)
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("The page could not be rendered. Please return to your application."))
		return
	}

	security.SetInterstitialSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
