package loader

import (
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrInvalidLocator reports a locator outside the allowed schemes
	ErrInvalidLocator = errors.New("src not invalid")
	// ErrForbidden reports a file locator outside the allow-list
	ErrForbidden = errors.New("locator not allowed")
	// ErrStatus reports a non-success HTTP response
	ErrStatus = errors.New("unexpected status")
)

// Kind classifies a loaded resource
type Kind string

const (
	KindHTML   Kind = "html"
	KindScript Kind = "script"
	KindText   Kind = "text"
)

// Document is a loaded resource
type Document struct {
	URL          string
	Kind         Kind
	MIME         string
	Status       int
	CharacterSet string
	Title        string
	Body         string
	// Scripts are the inline scripts of an HTML page, or the body of a script resource
	Scripts []string
	// HTML is the parsed page for KindHTML, nil otherwise
	HTML *goquery.Document
}

// Config defines loader configuration
type Config struct {
	Timeout           time.Duration // per-request timeout
	MaxRetries        int           // transport retries for http(s)
	RequestsPerSecond float64       // shared fetch rate, 0 = unlimited
	FileRoots         []string      // doublestar patterns allowed for file/asar, empty = any
	BreakerFailures   uint32        // consecutive failures that open a host breaker
	BreakerTimeout    time.Duration // open period before a breaker half-opens
}

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		MaxRetries:        2,
		RequestsPerSecond: 0,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}
