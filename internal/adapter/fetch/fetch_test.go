package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Example   Article </title>
  <style>body { color: red }</style>
  <script>var tracking = true;</script>
</head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <article>
    <h1>Go concurrency</h1>
    <p>Goroutines are   cheap.
       Channels connect them.</p>
    <p>Use <code>context</code> for cancellation.</p>
    <table><tr><td>skipped cell</td></tr></table>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func TestExtract(t *testing.T) {
	title, text, err := Extract(strings.NewReader(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Example Article", title)
	assert.Equal(t, "Go concurrency\n\nGoroutines are cheap. Channels connect them.\n\nUse context for cancellation.", text)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "Home")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "skipped cell")
}

func TestExtractFallsBackToBody(t *testing.T) {
	_, text, err := Extract(strings.NewReader(`<html><body><div>One</div><div>Two <b>bold</b></div><script>x()</script></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "One\n\nTwo bold", text)
}

func TestURLPolicy(t *testing.T) {
	p, err := NewURLPolicy([]string{"docs.example.com/**"}, []string{"**/*.pdf"})
	require.NoError(t, err)

	cases := []struct {
		url  string
		want bool
	}{
		{"https://docs.example.com/guide/intro", true},
		{"https://docs.example.com", true},
		{"https://docs.example.com/guide/spec.pdf", false},
		{"https://other.example.com/guide", false},
	}
	for _, c := range cases {
		u, err := url.Parse(c.url)
		require.NoError(t, err)
		assert.Equal(t, c.want, p.Allowed(u), c.url)
	}

	var open *URLPolicy
	u, _ := url.Parse("https://anything.test/x")
	assert.True(t, open.Allowed(u))

	_, err = NewURLPolicy([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func fastFetcher(opts Options) *HTTPFetcher {
	opts.BackoffInitial = time.Millisecond
	opts.BackoffMax = 5 * time.Millisecond
	return NewHTTPFetcher(opts)
}

func TestHTTPFetcher_FetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	f := fastFetcher(Options{UserAgent: "test-agent"})
	page, err := f.Fetch(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, "Example Article", page.Title)
	assert.Contains(t, page.Text, "Goroutines are cheap.")
	assert.Equal(t, srv.URL+"/post", page.URL)
}

func TestHTTPFetcher_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  hello world, hello world \n")
	}))
	defer srv.Close()

	page, err := fastFetcher(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello world, hello world", page.Text)
	assert.Empty(t, page.Title)
}

func TestHTTPFetcher_TranscodesLatin1(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantTitle   string
		wantText    string
	}{
		{
			name:        "declared charset",
			contentType: "text/plain; charset=iso-8859-1",
			body:        "Bienvenue dans notre petit caf\xe9",
			wantText:    "Bienvenue dans notre petit café",
		},
		{
			name:        "undeclared charset",
			contentType: "text/plain",
			body:        "Bienvenue dans notre petit caf\xe9",
			wantText:    "Bienvenue dans notre petit café",
		},
		{
			name:        "meta charset",
			contentType: "text/html",
			body:        "<html><head><meta charset=\"iso-8859-1\"><title>Caf\xe9</title></head><body><p>Cr\xe8me br\xfbl\xe9e</p></body></html>",
			wantTitle:   "Café",
			wantText:    "Crème brûlée",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			page, err := fastFetcher(Options{}).Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, page.Title)
			assert.Equal(t, tt.wantText, page.Text)
		})
	}
}

func TestHTTPFetcher_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	page, err := fastFetcher(Options{Attempts: 3}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", page.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastFetcher(Options{Attempts: 3}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastFetcher(Options{Attempts: 3}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_RejectsBinaryContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	_, err := fastFetcher(Options{}).Fetch(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unsupported content type")
}

func TestHTTPFetcher_Policy(t *testing.T) {
	policy, err := NewURLPolicy(nil, []string{"blocked.test/**"})
	require.NoError(t, err)

	_, err = fastFetcher(Options{Policy: policy}).Fetch(context.Background(), "https://blocked.test/page")
	assert.ErrorIs(t, err, ErrBlocked)
}
