package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/studyrag/backend/internal/storage/models"
)

// Loader yields per-page text for a source location. PDF extraction itself
// happens upstream; ingestion consumes the extracted text, one page per entry,
// in document order.
type Loader interface {
	LoadPages(ctx context.Context, sourceURL string) ([]models.PageDocument, error)
}

// PageTextLoader reads pre-extracted page text, with pages separated by form
// feed characters (the convention of the extraction step). Local paths and
// http(s) URLs are both accepted.
type PageTextLoader struct {
	httpClient *http.Client
}

func NewPageTextLoader() *PageTextLoader {
	return &PageTextLoader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *PageTextLoader) LoadPages(ctx context.Context, sourceURL string) ([]models.PageDocument, error) {
	raw, err := l.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	rawPages := strings.Split(raw, "\f")
	pages := make([]models.PageDocument, 0, len(rawPages))
	for _, text := range rawPages {
		pages = append(pages, models.PageDocument{
			Text: text,
			Metadata: map[string]string{
				"source": sourceURL,
				"loader": "pagetext",
			},
		})
	}

	return pages, nil
}

func (l *PageTextLoader) fetch(ctx context.Context, sourceURL string) (string, error) {
	if strings.HasPrefix(sourceURL, "http://") || strings.HasPrefix(sourceURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
		if err != nil {
			return "", fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := l.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to fetch source: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, sourceURL)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read source body: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(sourceURL)
	if err != nil {
		return "", fmt.Errorf("failed to read source file: %w", err)
	}
	return string(data), nil
}

// HTMLLoader extracts body text from an HTML source, dropping script, style
// and navigation chrome. HTML sources have no page structure, so the whole
// document comes back as a single page.
type HTMLLoader struct {
	httpClient *http.Client
}

func NewHTMLLoader() *HTMLLoader {
	return &HTMLLoader{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (l *HTMLLoader) LoadPages(ctx context.Context, sourceURL string) ([]models.PageDocument, error) {
	textLoader := &PageTextLoader{httpClient: l.httpClient}
	raw, err := textLoader.fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, sel *goquery.Selection) {
		sel.Remove()
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("body").Text()

	meta := map[string]string{
		"source": sourceURL,
		"loader": "html",
	}
	if title != "" {
		meta["title"] = title
	}

	return []models.PageDocument{{Text: body, Metadata: meta}}, nil
}

// LoaderFor picks a loader by the document's MIME type.
func LoaderFor(fileType string) Loader {
	if strings.HasPrefix(fileType, "text/html") {
		return NewHTMLLoader()
	}
	return NewPageTextLoader()
}
