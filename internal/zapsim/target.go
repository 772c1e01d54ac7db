package zapsim

import (
	"net/http"
)

// CookieDef defines a cookie to be set.
type CookieDef struct {
	Name     string
	Value    string
	Path     string
	HttpOnly bool
	Secure   bool
}

// PageDefinition is one page of the demo target.
type PageDefinition struct {
	Path        string
	Description string
	HTML        string
	ContentType string
	Headers     map[string]string
	Cookies     []CookieDef
}

// DemoPages returns a small site with the usual header and cookie mistakes.
func DemoPages() []PageDefinition {
	return []PageDefinition{
		{
			Path:        "/",
			Description: "Home page with navigation and a tracking cookie",
			HTML: `<!DOCTYPE html>
<html>
<head>
    <title>Demo Shop</title>
    <script src="/static/app.js"></script>
</head>
<body>
    <nav>
        <a href="/">Home</a> |
        <a href="/login">Login</a> |
        <a href="/admin">Admin</a> |
        <a href="/about#team">About</a> |
        <a href="mailto:shop@example.com">Mail us</a> |
        <a href="https://cdn.example.org/lib.js">CDN</a>
    </nav>
</body>
</html>`,
			Headers: map[string]string{
				"Server":       "nginx/1.25.3",
				"X-Powered-By": "Express",
			},
			Cookies: []CookieDef{{Name: "visitor", Value: "true", Path: "/"}},
		},
		{
			Path:        "/login",
			Description: "Login form over plain HTTP",
			HTML: `<!DOCTYPE html>
<html>
<body>
    <form action="/login" method="POST">
        <input type="text" name="username">
        <input type="password" name="password">
        <button type="submit">Sign in</button>
    </form>
    <a href="/">Back</a>
</body>
</html>`,
			Cookies: []CookieDef{{Name: "csrf", Value: "token_abc123", Path: "/", HttpOnly: true}},
		},
		{
			Path:        "/admin",
			Description: "Admin page with framing protection and a CSP",
			HTML: `<!DOCTYPE html>
<html>
<body>
    <h1>Admin</h1>
    <a href="/admin/users">Users</a>
</body>
</html>`,
			Headers: map[string]string{
				"X-Frame-Options":         "DENY",
				"Content-Security-Policy": "default-src 'self'",
				"X-Content-Type-Options":  "nosniff",
			},
		},
		{
			Path:        "/admin/users",
			Description: "Nested admin page",
			HTML:        `<!DOCTYPE html><html><body><a href="/admin">Admin</a></body></html>`,
			Headers: map[string]string{
				"X-Frame-Options":         "SAMEORIGIN",
				"Content-Security-Policy": "default-src 'self'; frame-ancestors 'self'",
				"X-Content-Type-Options":  "nosniff",
			},
			Cookies: []CookieDef{{Name: "admin_session", Value: "s3cr3t", Path: "/admin", HttpOnly: true, Secure: true}},
		},
		{
			Path:        "/about",
			Description: "Plain page",
			HTML:        `<!DOCTYPE html><html><body><p id="team">About us</p></body></html>`,
		},
		{
			Path:        "/static/app.js",
			Description: "Static script",
			HTML:        `console.log("demo shop");`,
			ContentType: "application/javascript",
		},
	}
}

// NewDemoTarget serves DemoPages; unknown paths are 404.
func NewDemoTarget() http.Handler {
	pages := map[string]PageDefinition{}
	for _, p := range DemoPages() {
		pages[p.Path] = p
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}

		for k, v := range p.Headers {
			w.Header().Set(k, v)
		}
		for _, c := range p.Cookies {
			http.SetCookie(w, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				HttpOnly: c.HttpOnly,
				Secure:   c.Secure,
			})
		}

		contentType := p.ContentType
		if contentType == "" {
			contentType = "text/html; charset=utf-8"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(p.HTML))
	})
}
