package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

func result(url string, site models.SiteID, title string, price models.Money, kind models.ErrorKind) models.ExtractionResult {
	target := models.Target{URL: url, Site: site, Origin: models.OriginExplicit}
	var err error
	if kind != models.ErrKindNone {
		err = errors.New(kind.String())
	}
	return models.NewResult(target, title, price, kind, err)
}

var (
	widget = result("https://www.amazon.in/w/dp/B0WIDGET01", models.SiteAmazon, "Widget", "₹499", models.ErrKindNone)
	gadget = result("https://www.croma.com/g/p/1", models.SiteCroma, "Gadget, Deluxe", "₹999", models.ErrKindNone)
	broken = result("https://www.croma.com/x/p/2", models.SiteCroma, "", "", models.ErrKindNavigationTimeout)
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCSVSinkWritesHeaderIntoNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scraped_urls.csv")
	sink := NewCSVSink(path, SchemaURLs)

	require.NoError(t, sink.Write(context.Background(), widget))
	require.NoError(t, sink.Write(context.Background(), gadget))
	require.NoError(t, sink.Close())

	assert.Equal(t, "site,price\nAmazon,₹499\nCroma,₹999\n", readFile(t, path))
	assert.Equal(t, 2, sink.Rows())
}

func TestCSVSinkAppendsWithoutSecondHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraped_phone.csv")

	first := NewCSVSink(path, SchemaSearch)
	require.NoError(t, first.Write(context.Background(), widget))
	require.NoError(t, first.Close())

	second := NewCSVSink(path, SchemaSearch)
	require.NoError(t, second.Write(context.Background(), gadget))
	require.NoError(t, second.Close())

	want := "title,price,link\n" +
		"Widget,₹499,https://www.amazon.in/w/dp/B0WIDGET01\n" +
		"\n" +
		"\"Gadget, Deluxe\",₹999,https://www.croma.com/g/p/1\n"
	assert.Equal(t, want, readFile(t, path))
}

func TestCSVSinkTreatsEmptyFileAsNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	sink := NewCSVSink(path, SchemaURLs)
	require.NoError(t, sink.Write(context.Background(), widget))
	require.NoError(t, sink.Close())

	assert.Equal(t, "site,price\nAmazon,₹499\n", readFile(t, path))
}

func TestCSVSinkCreatesNothingWithoutRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.csv")
	sink := NewCSVSink(path, SchemaURLs)

	require.NoError(t, sink.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

type failingSink struct{ closed bool }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Write(ctx context.Context, r models.ExtractionResult) error {
	return errors.New("disk full")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestCollectorForwardsOnlyResultsWithData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraped_urls.csv")
	state, err := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	c := NewCollector(nil, WithRecordSink(NewCSVSink(path, SchemaURLs)), WithRecorder(state))
	for _, r := range []models.ExtractionResult{widget, broken, gadget} {
		require.NoError(t, c.Add(context.Background(), r))
	}
	require.NoError(t, c.Close())

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []models.ExtractionResult{widget, broken, gadget}, c.Results())
	assert.Equal(t, "site,price\nAmazon,₹499\nCroma,₹999\n", readFile(t, path))
	assert.Equal(t, 3, state.Stats()["total"])
}

func TestCollectorKeepsResultWhenSinkFails(t *testing.T) {
	sink := &failingSink{}
	c := NewCollector(nil, WithRecordSink(sink))

	err := c.Add(context.Background(), widget)

	assert.ErrorContains(t, err, "failing sink: disk full")
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Close())
	assert.True(t, sink.closed)
}

func TestStateStoreTracksUnfinishedTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStateStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, widget))
	require.NoError(t, store.Record(ctx, broken))
	assert.Equal(t, []string{broken.Target.URL}, store.Unfinished())

	reloaded, err := NewStateStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get(broken.Target.URL)
	require.True(t, ok)
	assert.Equal(t, models.ErrKindNavigationTimeout, got.ErrorKind)
	assert.Equal(t, 1, got.Attempts)

	fixed := result(broken.Target.URL, models.SiteCroma, "Recovered", "₹10", models.ErrKindNone)
	require.NoError(t, reloaded.Record(ctx, fixed))
	assert.Empty(t, reloaded.Unfinished())

	got, _ = reloaded.Get(broken.Target.URL)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, map[string]int{"success": 2, "total": 2}, reloaded.Stats())
}

func TestStateStoreLoadsBlankOrNullFile(t *testing.T) {
	for name, content := range map[string]string{"empty": "", "whitespace": " \n", "null": "null"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			store, err := NewStateStore(path)
			require.NoError(t, err)
			assert.Empty(t, store.Unfinished())

			require.NotPanics(t, func() {
				require.NoError(t, store.Record(context.Background(), broken))
			})
			assert.Equal(t, []string{broken.Target.URL}, store.Unfinished())
		})
	}
}

func TestStateStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"url\":"), 0o644))

	_, err := NewStateStore(path)

	assert.ErrorContains(t, err, "failed to parse")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintReport(&buf, []models.ExtractionResult{widget, broken}))

	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "Widget")
	assert.Contains(t, out, "navigation_timeout")
	assert.Contains(t, out, "2 targets: 1 succeeded, 0 partial, 1 failed")
}

func TestPrintReportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintReport(&buf, nil))

	assert.Contains(t, buf.String(), "No data was scraped")
}

func TestDefaultFilename(t *testing.T) {
	assert.Equal(t, "scraped_mechanical_keyboard.csv", DefaultFilename("mechanical  keyboard"))
	assert.Equal(t, "scraped_urls.csv", DefaultFilename(""))
}
