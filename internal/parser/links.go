package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResultLinks returns the absolute hrefs of the anchors belonging to each
// result heading, in document order. The anchor may wrap the heading or sit
// inside it depending on the markup revision.
func ResultLinks(html, pageURL, headingSelector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	var links []string
	doc.Find(headingSelector).Each(func(i int, heading *goquery.Selection) {
		anchor := heading.Closest("a")
		if anchor.Length() == 0 {
			anchor = heading.Find("a").First()
		}

		href, ok := anchor.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})

	return links, nil
}
