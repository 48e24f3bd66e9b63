// Package browser implements the worker's browser port on headless Chrome
// via chromedp.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/tracing"
	"github.com/chromedp/chromedp"

	"github.com/ratemate/taas/internal/worker"
)

// Driver launches headless Chrome instances.
type Driver struct {
	allocOpts []chromedp.ExecAllocatorOption
}

// NewDriver builds a Driver with container-friendly Chrome flags.
func NewDriver() *Driver {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	return &Driver{allocOpts: opts}
}

// NewPage starts a browser and opens a page at the requested viewport.
func (d *Driver) NewPage(ctx context.Context, vp worker.Viewport) (worker.Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocOpts...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)
	cancelAll := func() {
		pageCancel()
		allocCancel()
	}

	p := &page{
		ctx:       pageCtx,
		cancel:    cancelAll,
		net:       newNetTracker(),
		traceDone: make(chan struct{}),
	}

	chromedp.ListenTarget(pageCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			p.net.begin(e.RequestID)
		case *network.EventLoadingFinished:
			p.net.end(e.RequestID)
		case *network.EventLoadingFailed:
			p.net.end(e.RequestID)
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				p.mu.Lock()
				p.status = int(e.Response.Status)
				p.mu.Unlock()
			}
		case *tracing.EventDataCollected:
			p.mu.Lock()
			for _, v := range e.Value {
				p.trace = append(p.trace, json.RawMessage(v))
			}
			p.mu.Unlock()
		case *tracing.EventTracingComplete:
			p.traceOnce.Do(func() { close(p.traceDone) })
		}
	})

	if err := chromedp.Run(pageCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
	); err != nil {
		cancelAll()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return p, nil
}

type page struct {
	ctx    context.Context
	cancel context.CancelFunc
	net    *netTracker

	mu        sync.Mutex
	status    int
	trace     []json.RawMessage
	tracing   bool
	traceOnce sync.Once
	traceDone chan struct{}
}

// netTracker counts in-flight network requests so navigation can wait for
// the network to go quiet before the page is handed to the pipeline.
type netTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newNetTracker() *netTracker {
	return &netTracker{
		inflight: map[network.RequestID]struct{}{},
		last:     time.Now(),
	}
}

func (n *netTracker) begin(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight[id] = struct{}{}
	n.last = time.Now()
}

func (n *netTracker) end(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inflight, id)
	n.last = time.Now()
}

// quietAt reports whether no request is in flight and none started or
// finished within the window before now.
func (n *netTracker) quietAt(now time.Time, window time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) == 0 && now.Sub(n.last) >= window
}

func (p *page) StartTracing(ctx context.Context) error {
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return tracing.Start().
			WithTransferMode(tracing.TransferModeReportEvents).
			WithTraceConfig(&tracing.TraceConfig{
				IncludedCategories: []string{
					"devtools.timeline",
					"disabled-by-default-devtools.screenshot",
					"blink.user_timing",
				},
			}).
			Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	p.mu.Lock()
	p.tracing = true
	p.mu.Unlock()
	return nil
}

func (p *page) StopTracing(ctx context.Context, outPath string) error {
	p.mu.Lock()
	active := p.tracing
	p.tracing = false
	p.mu.Unlock()
	if !active {
		return nil
	}

	if err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return tracing.End().Do(ctx)
	})); err != nil {
		return fmt.Errorf("end tracing: %w", err)
	}

	select {
	case <-p.traceDone:
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	events := p.trace
	p.trace = nil
	p.mu.Unlock()

	doc := struct {
		TraceEvents []json.RawMessage `json:"traceEvents"`
	}{TraceEvents: events}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

const (
	networkQuietWindow = 500 * time.Millisecond
	networkQuietPoll   = 100 * time.Millisecond
)

func (p *page) Navigate(_ context.Context, url string, timeout time.Duration) (int, error) {
	navCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err == nil {
		p.waitNetworkQuiet(navCtx)
	}
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if err != nil {
		return status, fmt.Errorf("navigate %s: %w", url, err)
	}
	return status, nil
}

// waitNetworkQuiet blocks until the quiet window passes with no request in
// flight. Pages that never settle, long polls and websockets among them,
// proceed when the navigation deadline expires.
func (p *page) waitNetworkQuiet(ctx context.Context) {
	ticker := time.NewTicker(networkQuietPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if p.net.quietAt(now, networkQuietWindow) {
				return
			}
		}
	}
}

func (p *page) Title(context.Context) (string, error) {
	var title string
	if err := chromedp.Run(p.ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (p *page) Screenshot(context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG, which the visual engine requires.
	if err := chromedp.Run(p.ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *page) QueryCount(_ context.Context, selector string) (int, error) {
	var count int
	script := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(script, &count)); err != nil {
		return 0, fmt.Errorf("query %q: %w", selector, err)
	}
	return count, nil
}

func (p *page) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
