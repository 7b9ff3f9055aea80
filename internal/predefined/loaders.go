package predefined

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/pkg/logger"
)

var errNoHeader = errors.New("catalog has no title/sql header row")

var (
	titleHeaders = []string{"title", "name", "query name"}
	sqlHeaders   = []string{"sql", "query", "sql query"}
)

// columns locates the title and SQL columns in a header row.
func columns(header []string) (title, sql int, ok bool) {
	title, sql = -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if title < 0 && contains(titleHeaders, h) {
			title = i
		} else if sql < 0 && contains(sqlHeaders, h) {
			sql = i
		}
	}
	return title, sql, title >= 0 && sql >= 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// rowsToQueries converts raw rows into queries, skipping anything before the
// header and any row missing a title or SQL body.
func rowsToQueries(rows [][]string) ([]Query, error) {
	for i, row := range rows {
		ti, si, ok := columns(row)
		if !ok {
			continue
		}
		out := []Query{}
		for _, r := range rows[i+1:] {
			if ti >= len(r) || si >= len(r) {
				continue
			}
			title, sql := strings.TrimSpace(r[ti]), strings.TrimSpace(r[si])
			if title == "" || sql == "" {
				continue
			}
			out = append(out, Query{Title: title, SQL: sql})
		}
		return out, nil
	}
	return nil, errNoHeader
}

// CSVLoader reads the catalog from a CSV export with title and sql columns.
type CSVLoader struct {
	Path string
}

func (l CSVLoader) Load(_ context.Context) ([]Query, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

func ParseCSV(r io.Reader) ([]Query, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog csv: %w", err)
	}
	return rowsToQueries(rows)
}

// SheetLoader reads the catalog from a spreadsheet published to the web as
// HTML, taking the first table that has a title/sql header row.
type SheetLoader struct {
	URL        string
	httpClient *http.Client
}

func NewSheetLoader(url string) *SheetLoader {
	return &SheetLoader{
		URL: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (l *SheetLoader) Load(ctx context.Context) ([]Query, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog sheet returned status %d", resp.StatusCode)
	}

	queries, err := ParseSheetHTML(resp.Body)
	if err != nil {
		return nil, err
	}
	logger.Debug("Catalog sheet fetched", zap.String("url", l.URL), zap.Int("queries", len(queries)))
	return queries, nil
}

func ParseSheetHTML(r io.Reader) ([]Query, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var (
		queries []Query
		lastErr error = errNoHeader
	)
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var rows [][]string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, td.Text())
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		queries, lastErr = rowsToQueries(rows)
		return lastErr != nil
	})
	if lastErr != nil {
		return nil, lastErr
	}
	return queries, nil
}

// FallbackLoader tries each loader in order and returns the first success.
type FallbackLoader []Loader

func (f FallbackLoader) Load(ctx context.Context) ([]Query, error) {
	var errs []error
	for _, l := range f {
		queries, err := l.Load(ctx)
		if err == nil {
			return queries, nil
		}
		logger.Warn("Catalog loader failed, trying next", zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errors.New("no catalog loaders configured")
	}
	return nil, errors.Join(errs...)
}
