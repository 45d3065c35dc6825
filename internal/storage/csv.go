package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

// Schema selects the CSV columns.
type Schema int

const (
	// SchemaURLs is used for explicit url runs: site,price.
	SchemaURLs Schema = iota
	// SchemaSearch is used for search runs: title,price,link.
	SchemaSearch
)

func (s Schema) Header() []string {
	if s == SchemaSearch {
		return []string{"title", "price", "link"}
	}
	return []string{"site", "price"}
}

func (s Schema) Row(r models.ExtractionResult) []string {
	if s == SchemaSearch {
		return []string{r.Title, r.Price.String(), r.Target.URL}
	}
	return []string{r.Target.Site.String(), r.Price.String()}
}

// CSVSink appends rows to a CSV file. The file is opened on the first row, so
// a run without data never creates it. A header is written only into an
// absent or empty file; appending to an existing file starts with one blank
// separator line instead.
type CSVSink struct {
	path   string
	schema Schema

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	rows   int
}

func NewCSVSink(path string, schema Schema) *CSVSink {
	return &CSVSink{path: path, schema: schema}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Path() string { return s.path }

// Rows is the number of data rows written by this sink.
func (s *CSVSink) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *CSVSink) Write(ctx context.Context, result models.ExtractionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	if err := s.writer.Write(s.schema.Row(result)); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush csv record: %w", err)
	}
	s.rows++
	return nil
}

func (s *CSVSink) open() error {
	if err := ensureDir(s.path); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(s.schema.Header()); err != nil {
			f.Close()
			return fmt.Errorf("write csv header: %w", err)
		}
	} else if _, err := f.WriteString("\n"); err != nil {
		f.Close()
		return fmt.Errorf("write csv separator: %w", err)
	}

	s.file = f
	s.writer = writer
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}

var whitespace = regexp.MustCompile(`\s+`)

// DefaultFilename is scraped_<term>.csv for search runs, with whitespace
// replaced by underscores, and scraped_urls.csv otherwise.
func DefaultFilename(searchTerm string) string {
	term := strings.TrimSpace(searchTerm)
	if term == "" {
		return "scraped_urls.csv"
	}
	return "scraped_" + whitespace.ReplaceAllString(term, "_") + ".csv"
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
