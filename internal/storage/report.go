package storage

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/maltedev/shop-price-scraper/internal/models"
)

const maxTitleWidth = 48

// Summary counts outcomes by status.
type Summary struct {
	Total          int `json:"total"`
	Succeeded      int `json:"succeeded"`
	PartialFailure int `json:"partial_failure"`
	Failed         int `json:"failed"`
}

func Summarize(results []models.ExtractionResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case models.StatusSuccess:
			s.Succeeded++
		case models.StatusPartialFailure:
			s.PartialFailure++
		default:
			s.Failed++
		}
	}
	return s
}

// PrintReport writes one line per target, failures included.
func PrintReport(w io.Writer, results []models.ExtractionResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No data was scraped. The bot was likely blocked or no products were found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSITE\tSTATUS\tERROR\tTITLE\tPRICE\tURL")
	for i, r := range results {
		kind := r.ErrorKind.String()
		if kind == "" {
			kind = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			r.Target.Site,
			r.Status,
			kind,
			truncate(r.Title, maxTitleWidth),
			orDash(r.Price.String()),
			r.Target.URL,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := Summarize(results)
	_, err := fmt.Fprintf(w, "\n%d targets: %d succeeded, %d partial, %d failed\n",
		s.Total, s.Succeeded, s.PartialFailure, s.Failed)
	return err
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return orDash(s)
	}
	return string(runes[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
