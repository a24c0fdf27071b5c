// Package browser manages the DevTools control channel used by capability
// modules that drive a real browser session.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/finchwork/finch/internal/bus"
)

// Transport wraps a rod browser connection. Connection failure is a
// degraded state, not a fatal one: modules check Connected before use.
type Transport struct {
	controlURL string
	events     *bus.Bus

	mu      sync.Mutex
	browser *rod.Browser
}

// New creates a disconnected transport. events may be nil.
func New(controlURL string, events *bus.Bus) *Transport {
	return &Transport{controlURL: controlURL, events: events}
}

// Connect attaches to the browser's DevTools endpoint. Callers treat an
// error as degradation, not as a startup failure.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		return nil
	}

	b := rod.New().Context(ctx)
	if t.controlURL != "" {
		b = b.ControlURL(t.controlURL)
	}
	if err := b.Connect(); err != nil {
		t.emit(bus.EventBrowserError, map[string]any{"error": err.Error()})
		return fmt.Errorf("browser connect: %w", err)
	}

	t.browser = b
	t.emit(bus.EventBrowserConnected, nil)
	return nil
}

// Connected reports whether the control channel is attached.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.browser != nil
}

// Page opens a page at the given URL.
func (t *Transport) Page(url string) (*rod.Page, error) {
	t.mu.Lock()
	b := t.browser
	t.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser not connected")
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		t.emit(bus.EventBrowserError, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// Close detaches from the browser. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	b := t.browser
	t.browser = nil
	t.mu.Unlock()
	if b == nil {
		return nil
	}
	err := b.Close()
	t.emit(bus.EventBrowserDisconnected, nil)
	return err
}

func (t *Transport) emit(eventType string, fields map[string]any) {
	if t.events == nil {
		return
	}
	t.events.Emit(bus.Event{Type: eventType, Fields: fields})
}
