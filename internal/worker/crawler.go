package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultCrawlMaxPages bounds an auto-discovery crawl.
const DefaultCrawlMaxPages = 6

// staticExtensions are skipped during discovery; they can't contain links and
// make poor test cases.
var staticExtensions = map[string]bool{
	".jpg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
	".css": true, ".js": true, ".ico": true, ".pdf": true, ".zip": true,
}

// priorityPaths matches the paths a commerce test run cares about most.
var priorityPaths = regexp.MustCompile(`login|signin|store|home|product|account`)

// Crawler discovers same-host pages with a bounded breadth-first walk.
type Crawler struct {
	http     *http.Client
	maxPages int
}

// NewCrawler builds a Crawler. maxPages <= 0 selects the default bound.
func NewCrawler(hc *http.Client, maxPages int) *Crawler {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if maxPages <= 0 {
		maxPages = DefaultCrawlMaxPages
	}
	return &Crawler{http: hc, maxPages: maxPages}
}

// Discover walks out from seed and returns up to maxPages same-host page
// URLs, priority paths first. The seed itself is always included.
func (c *Crawler) Discover(ctx context.Context, seed string) ([]string, error) {
	seedURL, err := url.Parse(seed)
	if err != nil || seedURL.Host == "" {
		return nil, fmt.Errorf("invalid crawl seed %q", seed)
	}
	normalizedSeed := normalizeURL(seedURL)

	type item struct {
		url   string
		order int
	}
	visited := map[string]bool{normalizedSeed: true}
	found := []item{{url: normalizedSeed, order: 0}}
	frontier := []string{normalizedSeed}

	for len(frontier) > 0 && len(found) < c.maxPages {
		current := frontier[0]
		frontier = frontier[1:]

		links, err := c.fetchLinks(ctx, current)
		if err != nil {
			// A page that fails to fetch simply contributes no links.
			continue
		}
		for _, link := range links {
			if len(found) >= c.maxPages {
				break
			}
			u, err := url.Parse(link)
			if err != nil {
				continue
			}
			resolved := mustParse(current).ResolveReference(u)
			if resolved.Host != seedURL.Host {
				continue
			}
			if resolved.Scheme != "http" && resolved.Scheme != "https" {
				continue
			}
			if staticExtensions[strings.ToLower(path.Ext(resolved.Path))] {
				continue
			}
			normalized := normalizeURL(resolved)
			if visited[normalized] {
				continue
			}
			visited[normalized] = true
			found = append(found, item{url: normalized, order: len(found)})
			frontier = append(frontier, normalized)
		}
	}

	// Priority paths first; discovery order breaks ties so the result is
	// deterministic.
	sort.SliceStable(found, func(i, j int) bool {
		si, sj := pathScore(found[i].url), pathScore(found[j].url)
		if si != sj {
			return si < sj
		}
		return found[i].order < found[j].order
	})

	urls := make([]string, len(found))
	for i, f := range found {
		urls[i] = f.url
	}
	return urls, nil
}

func (c *Crawler) fetchLinks(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return nil, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" {
					links = append(links, attr.Val)
					break
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return links, nil
}

// normalizeURL drops the fragment and keeps the query, per crawl identity
// rules.
func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func pathScore(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 1
	}
	if priorityPaths.MatchString(strings.ToLower(u.Path)) {
		return 0
	}
	return 1
}

func mustParse(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &url.URL{}
	}
	return u
}
