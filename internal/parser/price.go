package parser

import (
	"regexp"
	"strings"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

var amountPattern = regexp.MustCompile(`\d[\d,.]*`)

// NormalizePrice turns shop price text into Money. Thousands separators and
// the decimal point are both dropped, so "1,299.00" becomes "₹129900" and
// Amazon's "1,299." becomes "₹1299". Only INR is supported; any currency
// marker in the input is ignored and ₹ is always prefixed.
func NormalizePrice(raw string) (models.Money, bool) {
	amount := amountPattern.FindString(raw)
	if amount == "" {
		return "", false
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, amount)
	if digits == "" {
		return "", false
	}

	return models.Money(models.CurrencySymbol + digits), true
}
