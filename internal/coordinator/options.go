package coordinator

import "time"

// Options configure a coordinator
type Options struct {
	// BackgroundMode enables automatic creation and reuse of pooled contexts
	BackgroundMode bool
	// DevTools opens the debugging surface of each context once its DOM is ready
	DevTools bool
	// WebviewPoolMaxLength caps live contexts while BackgroundMode is on
	WebviewPoolMaxLength int
	// Preload is injected into every created context before its page
	Preload string
	// UserAgent is the identity string of created contexts
	UserAgent string
	// SyncTimeout rejects requests still pending after it elapses; 0 disables
	SyncTimeout time.Duration
}

// DefaultOptions returns the default coordinator options
func DefaultOptions() Options {
	return Options{
		BackgroundMode:       true,
		DevTools:             false,
		WebviewPoolMaxLength: 5,
	}
}
