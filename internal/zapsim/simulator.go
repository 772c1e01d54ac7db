// Package zapsim is a small stand-in for a ZAP daemon. It answers the JSON
// API subset zapctl uses and acts as a forward proxy that records the hosts
// and pages it sees, so runs can be exercised without a real scanner.
package zapsim

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/idna"

	"github.com/raysh454/zapctl/internal/logging"
	"github.com/raysh454/zapctl/internal/zap"
)

const apiHost = "zap"

// page is one entry of the site tree.
type page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	FetchedAt  time.Time
}

type scanJob struct {
	id       int
	target   string
	progress int
	results  []string
}

// Simulator implements http.Handler.
type Simulator struct {
	cfg    Config
	logger logging.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	hosts      []string
	hostSeen   map[string]bool
	sites      map[string]*page
	spiders    map[int]*scanJob
	ascans     map[int]*scanJob
	nextSpider int
	nextAscan  int
	alerts     []zap.Alert
	alertSeen  map[string]bool
}

// New creates a simulator. Outbound requests go straight to their targets.
func New(cfg Config, logger logging.Logger) *Simulator {
	if logger == nil {
		logger = logging.Nop()
	}
	def := DefaultConfig()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "zapsim"}),
		client: &http.Client{
			Transport: &http.Transport{Proxy: nil, MaxIdleConnsPerHost: 8},
			Timeout:   cfg.FetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		ctx:       ctx,
		cancel:    cancel,
		hostSeen:  map[string]bool{},
		sites:     map[string]*page{},
		spiders:   map[int]*scanJob{},
		ascans:    map[int]*scanJob{},
		alertSeen: map[string]bool{},
	}
}

// Close stops running spider and scan jobs.
func (s *Simulator) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// ServeHTTP routes API calls and proxies everything else.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		writeAPIError(w, http.StatusMethodNotAllowed, "connect_unsupported", "HTTPS tunnelling is not simulated")
		return
	}

	if r.URL.IsAbs() {
		if strings.EqualFold(r.URL.Hostname(), apiHost) {
			s.serveAPI(w, r)
			return
		}
		s.serveProxy(w, r)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/JSON/") {
		s.serveAPI(w, r)
		return
	}
	http.NotFound(w, r)
}

// --- API ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, zap.APIError{Code: code, Message: msg})
}

func (s *Simulator) apiKeyOK(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	if r.Header.Get("X-ZAP-API-Key") == s.cfg.APIKey {
		return true
	}
	return r.URL.Query().Get("apikey") == s.cfg.APIKey
}

func (s *Simulator) serveAPI(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "JSON" {
		writeAPIError(w, http.StatusBadRequest, "bad_format", "expected /JSON/<component>/<type>/<name>/")
		return
	}
	if !s.apiKeyOK(r) {
		s.logger.Warn("rejected api call with bad key", logging.Field{Key: "path", Value: r.URL.Path})
		writeAPIError(w, http.StatusBadRequest, "bad_api_key", "Bad API key")
		return
	}

	q := r.URL.Query()
	endpoint := parts[1] + "/" + parts[2] + "/" + parts[3]
	s.logger.Debug("api call", logging.Field{Key: "endpoint", Value: endpoint})

	switch endpoint {
	case "core/view/version":
		writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
	case "core/view/hosts":
		writeJSON(w, http.StatusOK, map[string][]string{"hosts": s.Hosts()})
	case "core/view/alerts":
		s.handleAlerts(w, q)
	case "spider/action/scan":
		s.handleStart(w, q, true)
	case "ascan/action/scan":
		s.handleStart(w, q, false)
	case "spider/view/status":
		s.handleStatus(w, q, true)
	case "ascan/view/status":
		s.handleStatus(w, q, false)
	case "spider/view/results":
		s.handleResults(w, q)
	default:
		writeAPIError(w, http.StatusNotFound, "no_implementor", "not simulated: "+endpoint)
	}
}

func (s *Simulator) handleAlerts(w http.ResponseWriter, q url.Values) {
	start, _ := strconv.Atoi(q.Get("start"))
	count, _ := strconv.Atoi(q.Get("count"))
	alerts := s.Alerts(q.Get("baseurl"))

	if start > 0 {
		if start >= len(alerts) {
			alerts = nil
		} else {
			alerts = alerts[start:]
		}
	}
	if count > 0 && count < len(alerts) {
		alerts = alerts[:count]
	}
	if alerts == nil {
		alerts = []zap.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string][]zap.Alert{"alerts": alerts})
}

func (s *Simulator) handleStart(w http.ResponseWriter, q url.Values, spider bool) {
	raw := q.Get("url")
	if raw == "" {
		writeAPIError(w, http.StatusBadRequest, "missing_parameter", "url")
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeAPIError(w, http.StatusBadRequest, "bad_format", "url")
		return
	}

	var id int
	if spider {
		id = s.startSpider(target)
	} else {
		if !s.knowsHost(target) {
			writeAPIError(w, http.StatusBadRequest, "url_not_found", "URL Not Found in the Scan Tree")
			return
		}
		id = s.startAscan(target)
	}
	writeJSON(w, http.StatusOK, map[string]string{"scan": strconv.Itoa(id)})
}

func (s *Simulator) job(q url.Values, spider bool) (*scanJob, bool) {
	id, err := strconv.Atoi(q.Get("scanId"))
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.ascans
	if spider {
		jobs = s.spiders
	}
	j, ok := jobs[id]
	return j, ok
}

func (s *Simulator) handleStatus(w http.ResponseWriter, q url.Values, spider bool) {
	j, ok := s.job(q, spider)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "does_not_exist", "scanId")
		return
	}
	s.mu.Lock()
	pct := j.progress
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": strconv.Itoa(pct)})
}

func (s *Simulator) handleResults(w http.ResponseWriter, q url.Values) {
	j, ok := s.job(q, true)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "does_not_exist", "scanId")
		return
	}
	s.mu.Lock()
	results := append([]string{}, j.results...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string][]string{"results": results})
}

// --- proxy ---

// hop-by-hop headers are not forwarded.
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func (s *Simulator) serveProxy(w http.ResponseWriter, r *http.Request) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, body, err := s.fetchRequest(out)
	if err != nil {
		s.logger.Warn("proxy request failed",
			logging.Field{Key: "url", Value: r.URL.String()},
			logging.Field{Key: "error", Value: err.Error()})
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// fetch GETs rawURL directly and records it.
func (s *Simulator) fetch(ctx context.Context, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "zapsim/"+s.cfg.Version)
	resp, body, err := s.fetchRequest(req)
	if err != nil {
		return nil, err
	}
	return &page{URL: rawURL, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// fetchRequest performs req, records host and page, and returns the
// response with its body read (truncated to MaxBodyBytes).
func (s *Simulator) fetchRequest(req *http.Request) (*http.Response, []byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, nil, err
	}

	s.record(req.URL, &page{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		FetchedAt:  time.Now().UTC(),
	})
	return resp, body, nil
}

// --- site tree ---

// normalizeHost lowercases a hostname and converts IDNs to punycode.
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if puny, err := idna.Lookup.ToASCII(host); err == nil {
		return puny
	}
	return host
}

// siteKey identifies a URL in the site tree, without its fragment.
func siteKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = normalizeHost(c.Hostname())
	if port := u.Port(); port != "" {
		c.Host += ":" + port
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func (s *Simulator) record(u *url.URL, p *page) {
	host := normalizeHost(u.Hostname())
	key := siteKey(u)
	p.URL = key

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hostSeen[host] {
		s.hostSeen[host] = true
		s.hosts = append(s.hosts, host)
		s.logger.Info("new host in site tree", logging.Field{Key: "host", Value: host})
	}
	s.sites[key] = p
}

func (s *Simulator) knowsHost(u *url.URL) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostSeen[normalizeHost(u.Hostname())]
}

// pagesUnder returns the recorded pages at prefix or below it in the path
// hierarchy, sorted by URL. prefix has no trailing slash.
func (s *Simulator) pagesUnder(prefix string) []*page {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pages []*page
	for k, p := range s.sites {
		if underPrefix(k, prefix) {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })
	return pages
}

func underPrefix(key, prefix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}

// Hosts returns every host seen, in discovery order.
func (s *Simulator) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.hosts...)
}

// Alerts returns raised alerts whose URL starts with baseURL (all when empty).
func (s *Simulator) Alerts(baseURL string) []zap.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []zap.Alert
	for _, a := range s.alerts {
		if baseURL == "" || strings.HasPrefix(a.URL, baseURL) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Simulator) raise(alerts []zap.Alert) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, a := range alerts {
		key := a.PluginID + "|" + a.URL + "|" + a.Param
		if s.alertSeen[key] {
			continue
		}
		s.alertSeen[key] = true
		s.alerts = append(s.alerts, a)
		added++
	}
	return added
}

func (s *Simulator) setProgress(j *scanJob, pct int) {
	s.mu.Lock()
	j.progress = pct
	s.mu.Unlock()
}

// sleep waits for StepDelay; it reports false when the simulator closes.
func (s *Simulator) sleep() bool {
	if s.cfg.StepDelay <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
