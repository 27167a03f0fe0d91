// Package extract turns article URLs into readable plain text.
package extract

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/extract/pdftext"
	"github.com/JakeFAU/digest-enricher/internal/metrics"
	"github.com/JakeFAU/digest-enricher/internal/policy/ratelimit"
)

// Document is a downloaded resource.
type Document struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Page is a rendered HTML page.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	HTML        string
}

// Downloader performs a plain HTTP GET.
type Downloader interface {
	Download(ctx context.Context, url string) (Document, error)
}

// Renderer loads a page in a browser and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
}

// PDFTextFunc extracts the text layer of a PDF.
type PDFTextFunc func(data []byte) (string, error)

// Extractor routes a URL to the PDF or HTML path.
type Extractor struct {
	downloader Downloader
	renderer   Renderer
	pdfText    PDFTextFunc
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

var _ digest.ContentFetcher = (*Extractor)(nil)

// Option customizes an Extractor.
type Option func(*Extractor)

// WithRenderer enables headless rendering for HTML.
func WithRenderer(r Renderer) Option {
	return func(e *Extractor) { e.renderer = r }
}

// WithPDFText overrides the PDF text extractor.
func WithPDFText(fn PDFTextFunc) Option {
	return func(e *Extractor) { e.pdfText = fn }
}

// WithLimiter paces requests per host.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *Extractor) { e.limiter = l }
}

// New builds an Extractor. Without a renderer, HTML is taken from the plain download.
func New(downloader Downloader, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{downloader: downloader, pdfText: pdftext.Text, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract returns the normalized main text of url, or nil when nothing usable was found.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*string, error) {
	if err := e.limiter.WaitURL(ctx, rawURL); err != nil {
		return nil, err
	}
	text, err := e.extract(ctx, rawURL)
	site := metrics.SanitizeSite(rawURL)
	switch {
	case err != nil:
		metrics.ObserveFetch(site, "error", 0)
	case text == nil:
		metrics.ObserveFetch(site, "empty", 0)
	default:
		metrics.ObserveFetch(site, "ok", len(*text))
	}
	return text, err
}

func (e *Extractor) extract(ctx context.Context, rawURL string) (*string, error) {
	if IsPDFURL(rawURL) {
		return e.extractPDF(ctx, rawURL)
	}

	if e.renderer != nil {
		page, err := e.renderer.Render(ctx, rawURL)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("render %s: %w", rawURL, err)
			}
			e.logger.Warn("headless render failed, falling back to download",
				zap.String("url", rawURL), zap.Error(err))
		case IsPDFContentType(page.ContentType):
			return e.extractPDF(ctx, rawURL)
		default:
			return e.extractHTML(page.HTML)
		}
	}

	doc, err := e.downloader.Download(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	if IsPDFContentType(doc.ContentType) {
		return e.pdfFromBody(rawURL, doc.Body)
	}
	return e.extractHTML(string(doc.Body))
}

func (e *Extractor) extractPDF(ctx context.Context, rawURL string) (*string, error) {
	doc, err := e.downloader.Download(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("download pdf %s: %w", rawURL, err)
	}
	return e.pdfFromBody(rawURL, doc.Body)
}

func (e *Extractor) pdfFromBody(rawURL string, body []byte) (*string, error) {
	text, err := e.pdfText(body)
	if err != nil {
		return nil, fmt.Errorf("pdf text %s: %w", rawURL, err)
	}
	return nonEmpty(Normalize(text)), nil
}

func (e *Extractor) extractHTML(html string) (*string, error) {
	text, err := MainText(html)
	if err != nil {
		return nil, err
	}
	return nonEmpty(text), nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsPDFURL reports whether the URL path ends in .pdf.
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// IsPDFContentType reports whether a Content-Type header names a PDF.
func IsPDFContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/pdf"
}
