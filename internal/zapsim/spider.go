package zapsim

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/zapctl/internal/logging"
)

// linkSelectors lists the elements and attributes the spider follows.
var linkSelectors = []struct{ sel, attr string }{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"link[href]", "href"},
	{"frame[src]", "src"},
	{"iframe[src]", "src"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"form[action]", "action"},
}

func (s *Simulator) startSpider(root *url.URL) int {
	s.mu.Lock()
	id := s.nextSpider
	s.nextSpider++
	j := &scanJob{id: id, target: root.String()}
	s.spiders[id] = j
	s.mu.Unlock()

	s.logger.Info("spider started",
		logging.Field{Key: "scan_id", Value: id},
		logging.Field{Key: "url", Value: root.String()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.crawl(j, root)
	}()
	return id
}

// crawl is a breadth-first walk of same-origin links from root. Progress is
// the share of discovered pages already crawled.
func (s *Simulator) crawl(j *scanJob, root *url.URL) {
	rootKey := siteKey(root)
	origin := originOf(root)

	depth := map[string]int{rootKey: 0}
	queue := []string{rootKey}

	for i := 0; i < len(queue); i++ {
		if s.ctx.Err() != nil {
			return
		}
		current := queue[i]

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		p, err := s.fetch(ctx, current)
		cancel()
		if err != nil {
			s.logger.Warn("spider fetch failed",
				logging.Field{Key: "url", Value: current},
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			s.mu.Lock()
			j.results = append(j.results, current)
			s.mu.Unlock()

			if depth[current] < s.cfg.MaxDepth || s.cfg.MaxDepth <= 0 {
				for _, link := range extractLinks(current, p) {
					if _, seen := depth[link]; seen || len(queue) >= s.cfg.MaxPages {
						continue
					}
					u, err := url.Parse(link)
					if err != nil || originOf(u) != origin {
						continue
					}
					depth[link] = depth[current] + 1
					queue = append(queue, link)
				}
			}
		}

		pct := (i + 1) * 100 / len(queue)
		if pct >= 100 {
			pct = 99
		}
		s.setProgress(j, pct)
		if !s.sleep() {
			return
		}
	}

	s.setProgress(j, 100)
	s.logger.Info("spider completed",
		logging.Field{Key: "scan_id", Value: j.id},
		logging.Field{Key: "pages", Value: len(queue)})
}

// originOf returns scheme://host[:port] with the host normalized.
func originOf(u *url.URL) string {
	host := normalizeHost(u.Hostname())
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	return strings.ToLower(u.Scheme) + "://" + host
}

// extractLinks returns absolute, fragment-free links of an HTML page.
func extractLinks(pageURL string, p *page) []string {
	if !isHTML(p) {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var links []string
	seen := map[string]bool{}
	for _, ls := range linkSelectors {
		doc.Find(ls.sel).Each(func(_ int, sel *goquery.Selection) {
			raw := strings.TrimSpace(sel.AttrOr(ls.attr, ""))
			if raw == "" || strings.HasPrefix(raw, "#") {
				return
			}
			lower := strings.ToLower(raw)
			if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") ||
				strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "tel:") {
				return
			}
			u, err := base.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return
			}
			key := siteKey(u)
			if !seen[key] {
				seen[key] = true
				links = append(links, key)
			}
		})
	}
	return links
}

func isHTML(p *page) bool {
	ct := strings.ToLower(p.Header.Get("Content-Type"))
	if ct == "" {
		return bytes.Contains(bytes.ToLower(p.Body[:min(len(p.Body), 512)]), []byte("<html"))
	}
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}
