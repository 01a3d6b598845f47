// Package discover finds the advertised RSS/Atom feed of an HTML page.
package discover

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var feedTypePrefixes = []string{"application/rss", "application/atom"}

// Discover returns the shortest feed URL advertised by a <link> element in html.
// Ties keep the first candidate in document order. The boolean is false when
// the document cannot be parsed or advertises no feed.
func Discover(html string, pageURL string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	best := ""
	found := false
	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		linkType, _ := s.Attr("type")
		href, _ := s.Attr("href")
		if href == "" || !isFeedType(linkType) {
			return
		}
		candidate := strings.TrimSpace(resolve(page, href))
		if !found || len(candidate) < len(best) {
			best = candidate
			found = true
		}
	})
	return best, found
}

// ResolveHref resolves href against pageURL using the scheme and host only.
func ResolveHref(pageURL, href string) (string, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	return resolve(page, href), nil
}

// Relative hrefs resolve against the site root, never the page path.
func resolve(page *url.URL, href string) string {
	switch {
	case strings.HasPrefix(href, "/"):
		return page.Scheme + "://" + page.Host + href
	case !strings.HasPrefix(href, "http"):
		return page.Scheme + "://" + page.Host + "/" + href
	default:
		return href
	}
}

func isFeedType(linkType string) bool {
	for _, prefix := range feedTypePrefixes {
		if strings.HasPrefix(linkType, prefix) {
			return true
		}
	}
	return false
}
