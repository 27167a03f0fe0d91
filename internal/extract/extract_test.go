package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/policy/ratelimit"
)

type fakeDownloader struct {
	docs  map[string]Document
	calls int
}

func (f *fakeDownloader) Download(_ context.Context, url string) (Document, error) {
	f.calls++
	doc, ok := f.docs[url]
	if !ok {
		return Document{}, errors.New("not found")
	}
	return doc, nil
}

type fakeRenderer struct {
	page Page
	err  error
}

func (f *fakeRenderer) Render(context.Context, string) (Page, error) {
	return f.page, f.err
}

func fakePDF(data []byte) (string, error) {
	return "page one\u200b\n\n\n\npage two", nil
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	in := "\ufeffHello\u00a0world  \n\n\n\n\u200bSecond\u200c line\t\r\n\r\n  \n"
	require.Equal(t, "Hello world\n\nSecond line", Normalize(in))
	require.Empty(t, Normalize(" \n\u200d\n "))
}

func TestMainTextSelectorOrder(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<div class="content">Sidebar-ish content</div>
		<article><h1>Title</h1><p>First <b>bold</b> paragraph.</p><p>Second&nbsp;paragraph.</p>
		<script>var x = 1;</script></article>
	</body></html>`
	text, err := MainText(html)
	require.NoError(t, err)
	require.Equal(t, "Title\n\nFirst bold paragraph.\n\nSecond paragraph.", text)
}

func TestMainTextFallsBackToSectionsThenMain(t *testing.T) {
	t.Parallel()

	text, err := MainText(`<body><section><p>One</p></section><section><p>Two</p></section><main>Main</main></body>`)
	require.NoError(t, err)
	require.Equal(t, "One\n\nTwo", text)

	text, err = MainText(`<body><main><p>Only main</p></main></body>`)
	require.NoError(t, err)
	require.Equal(t, "Only main", text)

	text, err = MainText(`<body><div>nothing recognizable</div></body>`)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestMainTextSkipsEmptyCandidates(t *testing.T) {
	t.Parallel()

	text, err := MainText(`<body><article>   </article><div id="content"><p>Real text</p></div></body>`)
	require.NoError(t, err)
	require.Equal(t, "Real text", text)
}

func TestIsPDF(t *testing.T) {
	t.Parallel()

	require.True(t, IsPDFURL("https://example.com/paper.PDF"))
	require.True(t, IsPDFURL("https://example.com/paper.pdf?download=1"))
	require.False(t, IsPDFURL("https://example.com/pdf/view"))
	require.True(t, IsPDFContentType("application/pdf; charset=binary"))
	require.False(t, IsPDFContentType("text/html"))
	require.False(t, IsPDFContentType(""))
}

func TestExtractRoutesPDFByExtension(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{docs: map[string]Document{"https://x/a.pdf": {Body: []byte("%PDF")}}}
	e, err := New(dl, nil, WithPDFText(fakePDF), WithRenderer(&fakeRenderer{err: errors.New("should not render")}))
	require.NoError(t, err)

	text, err := e.Extract(context.Background(), "https://x/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, text)
	require.Equal(t, "page one\n\npage two", *text)
}

func TestExtractRoutesPDFByContentType(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{docs: map[string]Document{"https://x/doc": {ContentType: "application/pdf", Body: []byte("%PDF")}}}
	e, err := New(dl, nil, WithPDFText(fakePDF))
	require.NoError(t, err)
	text, err := e.Extract(context.Background(), "https://x/doc")
	require.NoError(t, err)
	require.Equal(t, "page one\n\npage two", *text)

	// a rendered page that turns out to be a PDF is downloaded instead
	e, err = New(dl, nil, WithPDFText(fakePDF), WithRenderer(&fakeRenderer{page: Page{ContentType: "application/pdf"}}))
	require.NoError(t, err)
	text, err = e.Extract(context.Background(), "https://x/doc")
	require.NoError(t, err)
	require.Equal(t, "page one\n\npage two", *text)
}

func TestExtractHTMLPaths(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{docs: map[string]Document{
		"https://x/post": {ContentType: "text/html", Body: []byte(`<article><p>Downloaded</p></article>`)},
		"https://x/empty": {ContentType: "text/html", Body: []byte(`<div>nav</div>`)},
	}}

	rendered, err := New(dl, nil, WithRenderer(&fakeRenderer{page: Page{HTML: `<article><p>Rendered</p></article>`}}))
	require.NoError(t, err)
	text, err := rendered.Extract(context.Background(), "https://x/post")
	require.NoError(t, err)
	require.Equal(t, "Rendered", *text)
	require.Zero(t, dl.calls)

	fallback, err := New(dl, nil, WithRenderer(&fakeRenderer{err: errors.New("chrome crashed")}))
	require.NoError(t, err)
	text, err = fallback.Extract(context.Background(), "https://x/post")
	require.NoError(t, err)
	require.Equal(t, "Downloaded", *text)

	plain, err := New(dl, nil)
	require.NoError(t, err)
	text, err = plain.Extract(context.Background(), "https://x/empty")
	require.NoError(t, err)
	require.Nil(t, text)

	_, err = plain.Extract(context.Background(), "https://x/missing")
	require.Error(t, err)
}

func TestExtractHonorsLimiterContext(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{docs: map[string]Document{
		"https://site.example/a": {ContentType: "text/html", Body: []byte("<article>hello</article>")},
	}}
	e, err := New(dl, nil, WithLimiter(ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1})))
	require.NoError(t, err)

	text, err := e.Extract(context.Background(), "https://site.example/a")
	require.NoError(t, err)
	require.Equal(t, "hello", *text)

	// the bucket for the host is now empty
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Extract(ctx, "https://site.example/a")
	require.Error(t, err)
	require.Equal(t, 1, dl.calls)
}
