// internal/loader/loader.go
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// maxBookBytes caps the size of a fetched story file.
const maxBookBytes = 32 << 20

// Loader turns one of the admissible story inputs into a Book: a Book value,
// a JSON document or a URL to fetch.
type Loader struct {
	book *models.Book
	url  string

	disableURLOptions bool
	fallbackURL       string
	baseURL           string
	client            *http.Client
	logger            *utils.Logger
	metrics           *utils.MetricsCollector
}

// Option configures a Loader.
type Option func(*Loader)

// WithDisableURLOptions forbids falling back to a URL when no story is given.
func WithDisableURLOptions(disable bool) Option {
	return func(l *Loader) { l.disableURLOptions = disable }
}

// WithFallbackURL sets the URL used when no story is given, usually taken
// from the host's own request parameters.
func WithFallbackURL(rawURL string) Option {
	return func(l *Loader) { l.fallbackURL = rawURL }
}

// WithBaseURL resolves relative story URLs ("/x.json", "./x.json") against base.
func WithBaseURL(base string) Option {
	return func(l *Loader) { l.baseURL = base }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Loader) { l.client = client }
}

// WithLogger replaces the global logger.
func WithLogger(logger *utils.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithMetrics replaces the global metrics collector.
func WithMetrics(metrics *utils.MetricsCollector) Option {
	return func(l *Loader) { l.metrics = metrics }
}

// New classifies input. Inline JSON is parsed here, so malformed documents
// fail at construction, as does a missing story when URL loading is disabled.
// Accepted inputs are *models.Book, models.Book, string, []byte and nil.
func New(input any, opts ...Option) (*Loader, error) {
	l := &Loader{
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
	for _, opt := range opts {
		opt(l)
	}

	switch v := input.(type) {
	case nil:
	case *models.Book:
		l.book = v
	case models.Book:
		l.book = &v
	case string:
		if IsURL(v) {
			l.url = v
			break
		}
		book, err := ParseBook([]byte(v))
		if err != nil {
			return nil, err
		}
		l.book = book
	case []byte:
		book, err := ParseBook(v)
		if err != nil {
			return nil, err
		}
		l.book = book
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported story input %T", input), apperrors.ErrNoStory)
	}

	if l.book == nil && l.url == "" && l.disableURLOptions {
		return nil, apperrors.NewValidationError(
			"no story provided and fetching story from the URL is disabled",
			apperrors.ErrNoStory,
		)
	}
	return l, nil
}

// IsURL reports whether s is treated as a story URL rather than story JSON.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http") || strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./")
}

// ParseBook decodes a story JSON document. The document must be an object.
func ParseBook(data []byte) (*models.Book, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("{")) || !bytes.HasSuffix(trimmed, []byte("}")) {
		return nil, apperrors.NewIOError("parse story", apperrors.ErrInvalidStoryString)
	}

	var book models.Book
	if err := json.Unmarshal(trimmed, &book); err != nil {
		return nil, apperrors.NewIOError("parse story", fmt.Errorf("%w: %v", apperrors.ErrInvalidJSON, err))
	}
	return &book, nil
}

// URL returns the URL Book will fetch, or "" when the story is already loaded.
func (l *Loader) URL() string {
	return l.url
}

// Book returns the story, fetching it when the loader was given a URL. A
// fetch is a single attempt.
func (l *Loader) Book(ctx context.Context) (*models.Book, error) {
	if l.book != nil {
		return l.book, nil
	}

	start := time.Now()
	book, err := l.fetch(ctx)
	if err != nil {
		l.metrics.IncrementCounter(utils.MetricBookLoadFailures)
		return nil, err
	}
	l.book = book
	l.metrics.IncrementCounter(utils.MetricBooksLoaded)
	l.metrics.RecordDuration(utils.MetricBookLoadMillis, time.Since(start))
	return book, nil
}

func (l *Loader) fetch(ctx context.Context) (*models.Book, error) {
	rawURL := l.url
	if rawURL == "" {
		if l.disableURLOptions {
			return nil, apperrors.NewValidationError(
				"no story provided and fetching story from the URL is disabled",
				apperrors.ErrNoStory,
			)
		}
		rawURL = l.fallbackURL
	}
	if rawURL == "" {
		return nil, apperrors.NewValidationError("no story provided in config or URL", apperrors.ErrNoStory)
	}
	if !IsURL(rawURL) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("story URL %q", rawURL),
			apperrors.ErrInvalidURL,
		)
	}

	target, err := l.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("story URL %q", rawURL), apperrors.ErrInvalidURL)
	}
	req.Header.Set("Accept", "application/json")

	l.logger.Info("fetching story", map[string]interface{}{"url": target})
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperrors.NewIOError(
			fmt.Sprintf("could not fetch story file from %s", target),
			fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewIOError(
			"fetch story",
			fmt.Errorf("%w %d: %s", apperrors.ErrHTTPStatus, resp.StatusCode, http.StatusText(resp.StatusCode)),
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBookBytes))
	if err != nil {
		return nil, apperrors.NewIOError(
			fmt.Sprintf("could not fetch story file from %s", target),
			fmt.Errorf("%w: %v", apperrors.ErrFetchFailed, err),
		)
	}

	var book models.Book
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("{")) {
		return nil, apperrors.NewIOError("invalid JSON file", apperrors.ErrInvalidJSON)
	}
	if err := json.Unmarshal(trimmed, &book); err != nil {
		return nil, apperrors.NewIOError("invalid JSON file", fmt.Errorf("%w: %v", apperrors.ErrInvalidJSON, err))
	}
	return &book, nil
}

func (l *Loader) resolve(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "http") {
		return rawURL, nil
	}
	if l.baseURL == "" {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("relative story URL %q needs a base URL", rawURL),
			apperrors.ErrInvalidURL,
		)
	}

	base, err := url.Parse(l.baseURL)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("base URL %q", l.baseURL), apperrors.ErrInvalidURL)
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("story URL %q", rawURL), apperrors.ErrInvalidURL)
	}
	return base.ResolveReference(ref).String(), nil
}
