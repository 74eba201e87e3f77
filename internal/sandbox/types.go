package sandbox

import (
	"errors"
	"time"
)

var (
	// ErrClosed is returned by a runtime that has been closed
	ErrClosed = errors.New("sandbox closed")
	// ErrNotLoaded is returned when no document has been loaded yet
	ErrNotLoaded = errors.New("no document loaded")
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Per-task execution timeout, 0 disables
	MaxCallStackSize int           // Maximum JS call depth
	EnableConsole    bool          // Expose console.log/warn/error/info
	DevTools         bool          // Forward console output to the logger from the start
	Preload          string        // Locator or inline script evaluated before page scripts
	UserAgent        string        // navigator.userAgent and HTTP User-Agent
	SyncTimeout      time.Duration // Timeout of requests made by remote objects, 0 disables
}

// Result holds execution result
type Result struct {
	Value      interface{}   // Return value
	Console    []LogEntry    // Console output
	DOMChanges []DOMChange   // DOM modifications
	Duration   time.Duration // Execution time
	Error      error         // Execution error
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DOMChange represents a DOM modification
type DOMChange struct {
	Type     string      // set_attribute, set_text, set_html
	Selector string      // CSS selector
	Property string      // Property name
	Value    interface{} // New value
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
	}
}
