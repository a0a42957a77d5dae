package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// ErrBlocked is returned for URLs rejected by the URL policy.
var ErrBlocked = errors.New("url blocked by policy")

// Options configures an HTTPFetcher. Zero values take the defaults noted.
type Options struct {
	Timeout        time.Duration // per request, default 15s
	Attempts       int           // total tries, default 3
	BackoffInitial time.Duration // default 1s
	BackoffMax     time.Duration // default 10s
	RequestsPerSec float64       // 0 disables rate limiting
	MaxBodyBytes   int64         // default 5 MiB
	UserAgent      string
	Policy         *URLPolicy
	Logger         *slog.Logger
	Client         *http.Client
}

// HTTPFetcher downloads pages and extracts their text. Transient failures
// (network errors, 5xx, 408, 429) are retried with exponential backoff;
// other failures are returned at once.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
}

var _ port.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher from opts.
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ragweb/1.0"
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
		logger:  logger,
	}
}

// Fetch downloads rawURL and returns its extracted title and text.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (domain.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.Page{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if !f.opts.Policy.Allowed(u) {
		return domain.Page{}, fmt.Errorf("%w: %s", ErrBlocked, rawURL)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.BackoffInitial
	b.MaxInterval = f.opts.BackoffMax
	b.MaxElapsedTime = 0

	var page domain.Page
	op := func() error {
		p, err := f.fetchOnce(ctx, rawURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("fetch failed, retrying", "url", rawURL, "error", err, "wait", wait)
	}

	retries := uint64(f.opts.Attempts - 1)
	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx), notify)
	if err != nil {
		return domain.Page{}, err
	}
	return page, nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (domain.Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.Page{}, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Page{}, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &statusError{code: resp.StatusCode}
		if retryableStatus(resp.StatusCode) {
			return domain.Page{}, serr
		}
		return domain.Page{}, backoff.Permanent(serr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return domain.Page{}, fmt.Errorf("reading body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || strings.HasPrefix(mediaType, "text/") || mediaType == "application/xhtml+xml" {
		body, err = toUTF8(body, contentType)
		if err != nil {
			return domain.Page{}, backoff.Permanent(fmt.Errorf("decoding body: %w", err))
		}
	}

	switch {
	case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text, err := Extract(bytes.NewReader(body))
		if err != nil {
			return domain.Page{}, backoff.Permanent(fmt.Errorf("parsing html: %w", err))
		}
		return domain.Page{URL: rawURL, Title: title, Text: text}, nil
	case strings.HasPrefix(mediaType, "text/"):
		return domain.Page{URL: rawURL, Text: strings.TrimSpace(string(body))}, nil
	default:
		return domain.Page{}, backoff.Permanent(fmt.Errorf("unsupported content type %q", mediaType))
	}
}

// toUTF8 transcodes body using the declared charset, a BOM or a <meta>
// declaration. Undeclared bodies that are already valid UTF-8 are kept
// as they are; anything else falls back to windows-1252.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	_, params, _ := mime.ParseMediaType(contentType)
	if params["charset"] == "" && utf8.Valid(body) {
		return body, nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
