package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const jsonLDSelector = `script[type="application/ld+json"]`

// Product holds the fields read from a schema.org Product block. Price is the
// raw value and still has to go through NormalizePrice.
type Product struct {
	Name  string
	Price string
}

// BlockError records a structured-data block that could not be decoded.
type BlockError struct {
	Index int
	Err   error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("structured data block %d: %v", e.Index, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// FindProduct scans every JSON-LD block of html and returns the first one
// declaring type Product. Blocks that fail to decode are reported in skipped
// and never stop the scan. A nil product with a nil error means no Product
// block exists.
func FindProduct(html string) (product *Product, skipped []*BlockError, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find(jsonLDSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		var block any
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if decErr := dec.Decode(&block); decErr != nil {
			skipped = append(skipped, &BlockError{Index: i, Err: decErr})
			return true
		}

		if node := findProductNode(block); node != nil {
			product = &Product{
				Name:  strings.TrimSpace(stringValue(node["name"])),
				Price: offerPrice(node["offers"]),
			}
			return false
		}
		return true
	})

	return product, skipped, nil
}

func findProductNode(v any) map[string]any {
	switch node := v.(type) {
	case map[string]any:
		if isProductType(node["@type"]) {
			return node
		}
		if graph, ok := node["@graph"].([]any); ok {
			return findProductNode(graph)
		}
	case []any:
		for _, item := range node {
			if found := findProductNode(item); found != nil {
				return found
			}
		}
	}
	return nil
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "Product" || strings.HasSuffix(t, "/Product")
	case []any:
		for _, item := range t {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func offerPrice(v any) string {
	switch offers := v.(type) {
	case map[string]any:
		if price := stringValue(offers["price"]); price != "" {
			return price
		}
		// AggregateOffer
		return stringValue(offers["lowPrice"])
	case []any:
		for _, item := range offers {
			if price := offerPrice(item); price != "" {
				return price
			}
		}
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
