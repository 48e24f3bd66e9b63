package worker

import (
	"context"
	"time"
)

// DefaultViewport is the viewport every web case renders at; baselines are
// keyed by it.
var DefaultViewport = Viewport{Width: 1366, Height: 900}

// NavigationTimeout bounds a single page navigation.
const NavigationTimeout = 30 * time.Second

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Page is one browser page owned exclusively by the executing job. Close must
// run on every path, including panics; tracing must be stopped even when
// navigation fails.
type Page interface {
	// StartTracing begins collecting a performance trace for the page.
	StartTracing(ctx context.Context) error

	// StopTracing flushes the collected trace to outPath. Safe to call when
	// tracing never started.
	StopTracing(ctx context.Context, outPath string) error

	// Navigate loads url and returns the document response status.
	Navigate(ctx context.Context, url string, timeout time.Duration) (int, error)

	// Title returns the current document title.
	Title(ctx context.Context) (string, error)

	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// QueryCount returns how many elements match a CSS selector.
	QueryCount(ctx context.Context, selector string) (int, error)

	// Close releases the page and its browser resources.
	Close() error
}

// BrowserDriver creates pages. Implementations own browser process lifecycle.
type BrowserDriver interface {
	NewPage(ctx context.Context, vp Viewport) (Page, error)
}
