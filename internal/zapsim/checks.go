package zapsim

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/zap"
)

// rule describes one alert kind, using ZAP's plugin ids and names.
type rule struct {
	pluginID    string
	name        string
	risk        string
	confidence  string
	cweID       string
	wascID      string
	description string
	solution    string
}

var (
	ruleHSTS = rule{"10035", "Strict-Transport-Security Header Not Set", zap.RiskLow, "High", "319", "15",
		"HTTP Strict Transport Security (HSTS) is not enforced by the server.",
		"Ensure the web server sets the Strict-Transport-Security header."}
	ruleNoSniff = rule{"10021", "X-Content-Type-Options Header Missing", zap.RiskLow, "Medium", "693", "15",
		"The Anti-MIME-Sniffing header X-Content-Type-Options was not set to 'nosniff'.",
		"Set the X-Content-Type-Options header to 'nosniff' for all pages."}
	ruleClickjack = rule{"10020", "Missing Anti-clickjacking Header", zap.RiskMedium, "Medium", "1021", "15",
		"The response does not protect against 'ClickJacking' attacks.",
		"Set X-Frame-Options or a Content-Security-Policy frame-ancestors directive."}
	ruleCSP = rule{"10038", "Content Security Policy (CSP) Header Not Set", zap.RiskMedium, "High", "693", "15",
		"Content Security Policy (CSP) is an added layer of security that helps to detect and mitigate XSS and data injection attacks.",
		"Ensure that your web server is configured to set the Content-Security-Policy header."}
	ruleServerVersion = rule{"10036", `Server Leaks Version Information via "Server" HTTP Response Header Field`, zap.RiskLow, "High", "497", "13",
		"The web server is leaking information about its software via the Server HTTP response header.",
		"Suppress the Server header or configure it to be generic."}
	rulePoweredBy = rule{"10037", `Server Leaks Information via "X-Powered-By" HTTP Response Header Field(s)`, zap.RiskLow, "Medium", "497", "13",
		"The web server is leaking information via one or more X-Powered-By HTTP response headers.",
		"Suppress X-Powered-By headers."}
	ruleCookieHTTPOnly = rule{"10010", "Cookie No HttpOnly Flag", zap.RiskLow, "Medium", "1004", "13",
		"A cookie has been set without the HttpOnly flag, so it can be read by JavaScript.",
		"Ensure that the HttpOnly flag is set for all cookies."}
	ruleCookieSecure = rule{"10011", "Cookie Without Secure Flag", zap.RiskLow, "Medium", "614", "13",
		"A cookie has been set without the secure flag, so it can be sent over unencrypted connections.",
		"Set the secure flag on cookies carrying sensitive data."}
	rulePlainHTTP = rule{"10200", "Content Served over Plain HTTP", zap.RiskInformational, "High", "319", "4",
		"The page was served without transport encryption.",
		"Serve the site over HTTPS only."}
	rulePasswordHTTP = rule{"10201", "Password Field Submitted over Plain HTTP", zap.RiskHigh, "Medium", "319", "4",
		"A form with a password field is served or submitted over HTTP.",
		"Serve and submit login forms over HTTPS only."}
)

func (r rule) alert(p *page, param, evidence string) zap.Alert {
	return zap.Alert{
		ID:          uuid.New().String(),
		PluginID:    r.pluginID,
		Alert:       r.name,
		Name:        r.name,
		Risk:        r.risk,
		Confidence:  r.confidence,
		URL:         p.URL,
		Method:      http.MethodGet,
		Param:       param,
		Evidence:    evidence,
		Description: r.description,
		Solution:    r.solution,
		CWEID:       r.cweID,
		WASCID:      r.wascID,
	}
}

// checkPage runs every rule against one recorded response.
func checkPage(p *page) []zap.Alert {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil
	}
	h := p.Header
	html := isHTML(p)
	var alerts []zap.Alert

	if h.Get("Strict-Transport-Security") == "" {
		alerts = append(alerts, ruleHSTS.alert(p, "", ""))
	}
	if !strings.EqualFold(strings.TrimSpace(h.Get("X-Content-Type-Options")), "nosniff") {
		alerts = append(alerts, ruleNoSniff.alert(p, "x-content-type-options", ""))
	}
	if html {
		csp := h.Get("Content-Security-Policy")
		if h.Get("X-Frame-Options") == "" && !strings.Contains(csp, "frame-ancestors") {
			alerts = append(alerts, ruleClickjack.alert(p, "x-frame-options", ""))
		}
		if csp == "" {
			alerts = append(alerts, ruleCSP.alert(p, "", ""))
		}
	}
	if server := h.Get("Server"); server != "" {
		alerts = append(alerts, ruleServerVersion.alert(p, "", server))
	}
	for _, v := range h.Values("X-Powered-By") {
		alerts = append(alerts, rulePoweredBy.alert(p, "", "X-Powered-By: "+v))
	}

	for _, c := range (&http.Response{Header: h}).Cookies() {
		if !c.HttpOnly {
			alerts = append(alerts, ruleCookieHTTPOnly.alert(p, c.Name, "Set-Cookie: "+c.Name))
		}
		if !c.Secure {
			alerts = append(alerts, ruleCookieSecure.alert(p, c.Name, "Set-Cookie: "+c.Name))
		}
	}

	if u.Scheme == "http" {
		alerts = append(alerts, rulePlainHTTP.alert(p, "", ""))
		if html && hasPasswordField(p.Body) {
			alerts = append(alerts, rulePasswordHTTP.alert(p, "password", `<input type="password">`))
		}
	}
	return alerts
}

func hasPasswordField(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	found := false
	doc.Find("input[type]").EachWithBreak(func(_ int, in *goquery.Selection) bool {
		found = strings.EqualFold(strings.TrimSpace(in.AttrOr("type", "")), "password")
		return !found
	})
	return found
}

func (s *Simulator) startAscan(target *url.URL) int {
	s.mu.Lock()
	id := s.nextAscan
	s.nextAscan++
	j := &scanJob{id: id, target: target.String()}
	s.ascans[id] = j
	s.mu.Unlock()

	s.logger.Info("active scan started",
		logging.Field{Key: "scan_id", Value: id},
		logging.Field{Key: "url", Value: target.String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.activeScan(j, target)
	}()
	return id
}

// activeScan checks every site tree page under target. The target itself is
// fetched first when it has not been recorded yet.
func (s *Simulator) activeScan(j *scanJob, target *url.URL) {
	prefix := strings.TrimSuffix(siteKey(target), "/")
	pages := s.pagesUnder(prefix)
	if len(pages) == 0 {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		p, err := s.fetch(ctx, siteKey(target))
		cancel()
		if err != nil {
			s.logger.Warn("active scan fetch failed",
				logging.Field{Key: "url", Value: target.String()},
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			p.URL = siteKey(target)
			pages = []*page{p}
		}
	}

	raised := 0
	for i, p := range pages {
		if s.ctx.Err() != nil {
			return
		}
		found := checkPage(p)
		for k := range found {
			found[k].MessageID = strconv.Itoa(i + 1)
		}
		raised += s.raise(found)

		pct := (i + 1) * 100 / len(pages)
		if pct >= 100 {
			pct = 99
		}
		s.setProgress(j, pct)
		if !s.sleep() {
			return
		}
	}

	s.setProgress(j, 100)
	s.logger.Info("active scan completed",
		logging.Field{Key: "scan_id", Value: j.id},
		logging.Field{Key: "pages", Value: len(pages)},
		logging.Field{Key: "alerts", Value: raised})
}
