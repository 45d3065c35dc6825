package database

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

func TestNewResultRow(t *testing.T) {
	target := models.Target{URL: "https://www.amazon.in/a/dp/B0AAAAAAA1", Site: models.SiteAmazon, Origin: models.OriginSearchResult}

	t.Run("success", func(t *testing.T) {
		r := models.NewResult(target, "Widget", "₹1299", models.ErrKindNone, nil)
		r.Duration = 1500 * time.Millisecond
		r.Strategy = "structured-data"

		row := NewResultRow("6f1c2d3e-0000-4000-8000-000000000001", r)

		assert.Equal(t, "Amazon", row.Site)
		assert.Equal(t, "search-result", row.Origin)
		require.NotNil(t, row.PriceAmount)
		assert.Equal(t, int64(1299), *row.PriceAmount)
		assert.Equal(t, "₹1299", *row.Price)
		assert.Nil(t, row.ErrorKind)
		assert.Equal(t, int64(1500), row.DurationMS)
		assert.Equal(t, "success", row.Status)
	})

	t.Run("failure", func(t *testing.T) {
		r := models.FailedResult(target, models.ErrKindNavigationTimeout, errors.New("timeout"))

		row := NewResultRow("run", r)

		assert.Nil(t, row.Title)
		assert.Nil(t, row.Price)
		assert.Nil(t, row.PriceAmount)
		require.NotNil(t, row.ErrorKind)
		assert.Equal(t, "navigation_timeout", *row.ErrorKind)
		assert.Equal(t, "failure", row.Status)
	})
}

func TestSchemaDeclaresTables(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS price_results")
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS outbox_event")
}
