package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
)

func TestNetTrackerQuietAt(t *testing.T) {
	tr := newNetTracker()
	base := time.Now()
	tr.last = base

	window := 500 * time.Millisecond

	// Nothing in flight but the window has not elapsed yet.
	assert.False(t, tr.quietAt(base.Add(100*time.Millisecond), window))
	assert.True(t, tr.quietAt(base.Add(window), window))

	// An in-flight request keeps the network busy regardless of elapsed time.
	tr.begin(network.RequestID("req-1"))
	assert.False(t, tr.quietAt(time.Now().Add(time.Hour), window))

	// Finishing the request restarts the quiet window.
	tr.end(network.RequestID("req-1"))
	tr.last = base
	assert.False(t, tr.quietAt(base.Add(window-time.Millisecond), window))
	assert.True(t, tr.quietAt(base.Add(window+time.Millisecond), window))
}

func TestNetTrackerOverlappingRequests(t *testing.T) {
	tr := newNetTracker()
	window := 500 * time.Millisecond

	tr.begin(network.RequestID("a"))
	tr.begin(network.RequestID("b"))
	tr.end(network.RequestID("a"))
	assert.False(t, tr.quietAt(time.Now().Add(time.Hour), window), "b still in flight")

	// A failed load counts as finished.
	tr.end(network.RequestID("b"))
	base := time.Now()
	tr.last = base
	assert.True(t, tr.quietAt(base.Add(window), window))

	// Ending an unknown request is harmless.
	tr.end(network.RequestID("never-started"))
	assert.True(t, tr.quietAt(base.Add(window), window))
}
