package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/saintfish/chardet"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Loader is shared by every session; it owns the transport, the rate limiter
// and the per-host breakers.
type Loader struct {
	config    Config
	transport http.RoundTripper
	limiter   *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a loader
func New(config Config) *Loader {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.MaxRetries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	limit := rate.Inf
	burst := 0
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
		burst = max(1, int(config.RequestsPerSecond))
	}

	return &Loader{
		config:    config,
		transport: &retryablehttp.RoundTripper{Client: retryClient},
		limiter:   rate.NewLimiter(limit, burst),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Session is the fetch state of one context
type Session struct {
	loader    *Loader
	client    *resty.Client
	userAgent string
}

// NewSession creates a session with an isolated cookie jar
func (l *Loader) NewSession(userAgent string) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := resty.New().
		SetTransport(l.transport).
		SetCookieJar(jar).
		SetTimeout(l.config.Timeout).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/javascript;q=0.9,*/*;q=0.8")
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}

	return &Session{loader: l, client: client, userAgent: userAgent}, nil
}

// UserAgent returns the identity string of the session
func (s *Session) UserAgent() string {
	return s.userAgent
}

// Fetch loads src into a document
func (s *Session) Fetch(ctx context.Context, src string) (*Document, error) {
	if !protocol.ValidLocator(src) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLocator, src)
	}

	switch {
	case strings.HasPrefix(src, "http:"), strings.HasPrefix(src, "https:"):
		return s.fetchHTTP(ctx, src)
	default:
		return s.loader.readFile(src)
	}
}

func (s *Session) fetchHTTP(ctx context.Context, src string) (*Document, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	if err := s.loader.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	out, err := s.loader.breaker(u.Host).Execute(func() (interface{}, error) {
		resp, err := s.client.R().SetContext(ctx).Get(src)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("%w: HTTP %d (url: %s)", ErrStatus, resp.StatusCode(), src)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	resp := out.(*resty.Response)
	if resp.StatusCode() < 200 || resp.StatusCode() >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d (url: %s)", ErrStatus, resp.StatusCode(), src)
	}

	doc, err := build(src, resp.Body(), resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	doc.Status = resp.StatusCode()
	return doc, nil
}

func (l *Loader) breaker(host string) *gobreaker.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cb, ok := l.breakers[host]; ok {
		return cb
	}
	failures := l.config.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: l.config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
	})
	l.breakers[host] = cb
	return cb
}

// readFile resolves file: and asar: locators
func (l *Loader) readFile(src string) (*Document, error) {
	path, err := filePath(src)
	if err != nil {
		return nil, err
	}
	if !l.fileAllowed(path) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := build(src, body, contentTypeByExt(path))
	if err != nil {
		return nil, err
	}
	doc.Status = http.StatusOK
	return doc, nil
}

func filePath(src string) (string, error) {
	scheme, rest, _ := strings.Cut(src, ":")
	if scheme == "asar" {
		rest = strings.TrimPrefix(rest, "//")
		return filepath.Clean(rest), nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path in %s", ErrInvalidLocator, src)
	}
	return filepath.Clean(path), nil
}

func (l *Loader) fileAllowed(path string) bool {
	if len(l.config.FileRoots) == 0 {
		return true
	}
	slashed := filepath.ToSlash(path)
	for _, pattern := range l.config.FileRoots {
		if ok, err := doublestar.Match(pattern, slashed); err == nil && ok {
			return true
		}
	}
	return false
}

func contentTypeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return "application/javascript"
	case ".html", ".htm":
		return "text/html"
	default:
		return ""
	}
}

// build classifies body and produces a document
func build(src string, body []byte, contentType string) (*Document, error) {
	detected := mimetype.Detect(body)
	charsetName := charsetOf(contentType, body)

	doc := &Document{
		URL:          src,
		MIME:         detected.String(),
		CharacterSet: charsetName,
	}

	text, err := toUTF8(body, charsetName)
	if err != nil {
		text = string(body)
	}
	doc.Body = text

	switch classify(contentType, detected) {
	case KindHTML:
		parsed, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
		doc.Kind = KindHTML
		doc.HTML = parsed
		doc.Title = strings.TrimSpace(parsed.Find("title").First().Text())
		doc.Scripts = inlineScripts(parsed)
	case KindScript:
		doc.Kind = KindScript
		doc.Scripts = []string{text}
	default:
		doc.Kind = KindText
	}
	return doc, nil
}

func classify(contentType string, detected *mimetype.MIME) Kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "javascript") || strings.Contains(ct, "ecmascript"):
		return KindScript
	case strings.Contains(ct, "html"):
		return KindHTML
	case detected.Is("text/html"):
		return KindHTML
	case detected.Is("application/javascript") || detected.Is("text/javascript"):
		return KindScript
	default:
		return KindText
	}
}

func inlineScripts(doc *goquery.Document) []string {
	var scripts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if typ != "" && !strings.Contains(typ, "javascript") {
			return
		}
		if code := strings.TrimSpace(s.Text()); code != "" {
			scripts = append(scripts, code)
		}
	})
	return scripts
}

func charsetOf(contentType string, body []byte) string {
	if _, params, ok := strings.Cut(contentType, "charset="); ok {
		name, _, _ := strings.Cut(params, ";")
		return strings.ToLower(strings.Trim(strings.TrimSpace(name), `"`))
	}
	if len(body) == 0 {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(body)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

func toUTF8(body []byte, charsetName string) (string, error) {
	if charsetName == "" || charsetName == "utf-8" || charsetName == "utf8" {
		return string(body), nil
	}
	reader, err := charset.NewReaderLabel(charsetName, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	converted, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(converted), nil
}
