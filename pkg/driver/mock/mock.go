// Package mock provides a scriptable backend for testing without a real
// device or automation server.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// Backend is a scriptable implementation of core.Backend. Locate calls hit a
// node table keyed by strategy kind and payload; every call is recorded for
// assertions. The zero value is not usable, call NewBackend.
type Backend struct {
	mu sync.Mutex

	width  int
	height int

	nodes      map[string]core.Node
	failTimes  map[string]int
	delays     map[string]time.Duration
	errors     map[string]*script
	calls      []string
	attached   bool
	foreground string
	screenshot []byte
}

var _ core.Backend = (*Backend)(nil)

type script struct {
	err   error
	times int // negative means every call
}

// NewBackend creates a mock backend with a 1080x1920 screen.
func NewBackend() *Backend {
	return &Backend{
		width:      1080,
		height:     1920,
		nodes:      make(map[string]core.Node),
		failTimes:  make(map[string]int),
		delays:     make(map[string]time.Duration),
		errors:     make(map[string]*script),
		screenshot: minimalPNG(),
	}
}

// scriptKey builds the node table key. The payload key per kind:
// semantic_id uses the id, text uses the query value, relative_layout uses
// "relation:anchor", image_template uses the template path.
func scriptKey(kind locator.Kind, key string) string {
	return kind.String() + ":" + key
}

// AddNode scripts a successful locate for the given kind and payload key.
func (b *Backend) AddNode(kind locator.Kind, key string, node core.Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[scriptKey(kind, key)] = node
}

// RemoveNode deletes a scripted node.
func (b *Backend) RemoveNode(kind locator.Kind, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, scriptKey(kind, key))
}

// FailTimes makes the next n locate calls for the key miss even when a node
// is scripted.
func (b *Backend) FailTimes(kind locator.Kind, key string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failTimes[scriptKey(kind, key)] = n
}

// SetDelay adds artificial latency to locate calls for the key.
func (b *Backend) SetDelay(kind locator.Kind, key string, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delays[scriptKey(kind, key)] = d
}

// SetError makes every call of the named op fail. Op names match the
// recorded call prefixes: attach, detach, alive, window, tap, input, clear,
// swipe, key, button, launch, terminate, foreground, screenshot.
func (b *Backend) SetError(op string, err error) {
	b.SetErrorTimes(op, err, -1)
}

// SetErrorTimes makes the next times calls of the named op fail.
func (b *Backend) SetErrorTimes(op string, err error, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors[op] = &script{err: err, times: times}
}

// SetForeground scripts the foreground app identifier.
func (b *Backend) SetForeground(appID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreground = appID
}

// SetScreenshot scripts the screenshot payload.
func (b *Backend) SetScreenshot(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenshot = data
}

// SetWindowSize scripts the reported screen dimensions.
func (b *Backend) SetWindowSize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = width
	b.height = height
}

// Calls returns a copy of the recorded call log.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount counts recorded calls whose entry starts with the prefix.
func (b *Backend) CallCount(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Attached reports whether Attach succeeded without a later Detach.
func (b *Backend) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func (b *Backend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
}

func (b *Backend) takeError(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.errors[op]
	if !ok || s.times == 0 {
		return nil
	}
	if s.times > 0 {
		s.times--
	}
	return s.err
}

// Attach starts the fake session.
func (b *Backend) Attach(ctx context.Context, caps map[string]interface{}) error {
	b.record("attach")
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.takeError("attach"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = true
	return nil
}

// Detach ends the fake session.
func (b *Backend) Detach(ctx context.Context) error {
	b.record("detach")
	if err := b.takeError("detach"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = false
	return nil
}

// Alive reports scripted liveness.
func (b *Backend) Alive(ctx context.Context) error {
	b.record("alive")
	if err := b.takeError("alive"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return fmt.Errorf("not attached")
	}
	return nil
}

// WindowSize returns the scripted screen dimensions.
func (b *Backend) WindowSize(ctx context.Context) (int, int, error) {
	b.record("window")
	if err := b.takeError("window"); err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height, nil
}

func (b *Backend) locate(ctx context.Context, kind locator.Kind, key string) (core.Node, error) {
	sk := scriptKey(kind, key)
	b.record("locate:" + sk)

	b.mu.Lock()
	delay := b.delays[sk]
	b.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return core.Node{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return core.Node{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return core.Node{}, fmt.Errorf("not attached")
	}
	if n := b.failTimes[sk]; n > 0 {
		b.failTimes[sk] = n - 1
		return core.Node{}, fmt.Errorf("no such element: %s", key)
	}
	node, ok := b.nodes[sk]
	if !ok {
		return core.Node{}, fmt.Errorf("no such element: %s", key)
	}
	return node, nil
}

// LocateID looks up a scripted semantic-id node.
func (b *Backend) LocateID(ctx context.Context, id string) (core.Node, error) {
	return b.locate(ctx, locator.KindSemanticID, id)
}

// LocateText looks up a scripted text node by query value.
func (b *Backend) LocateText(ctx context.Context, q locator.Text) (core.Node, error) {
	return b.locate(ctx, locator.KindText, q.Value)
}

// LocateRelative looks up a scripted relative node under "relation:anchor".
func (b *Backend) LocateRelative(ctx context.Context, q locator.Relative) (core.Node, error) {
	anchor := q.AnchorID
	if anchor == "" {
		anchor = q.AnchorText
	}
	return b.locate(ctx, locator.KindRelative, q.Relation.String()+":"+anchor)
}

// LocateTemplate looks up a scripted image node by template path.
func (b *Backend) LocateTemplate(ctx context.Context, q locator.Image) (core.Node, error) {
	return b.locate(ctx, locator.KindImage, q.Template)
}

// Tap records a tap at the given point.
func (b *Backend) Tap(ctx context.Context, x, y int) error {
	b.record(fmt.Sprintf("tap:%d,%d", x, y))
	return b.takeError("tap")
}

// InputText records typed text.
func (b *Backend) InputText(ctx context.Context, handle, text string) error {
	b.record(fmt.Sprintf("input:%s:%s", handle, text))
	return b.takeError("input")
}

// ClearText records a field clear.
func (b *Backend) ClearText(ctx context.Context, handle string) error {
	b.record("clear:" + handle)
	return b.takeError("clear")
}

// Swipe records a swipe gesture.
func (b *Backend) Swipe(ctx context.Context, fromX, fromY, toX, toY int, duration time.Duration) error {
	b.record(fmt.Sprintf("swipe:%d,%d->%d,%d", fromX, fromY, toX, toY))
	return b.takeError("swipe")
}

// PressKey records an Android key code press.
func (b *Backend) PressKey(ctx context.Context, keycode int) error {
	b.record(fmt.Sprintf("key:%d", keycode))
	return b.takeError("key")
}

// PressButton records an iOS hardware button press.
func (b *Backend) PressButton(ctx context.Context, name string) error {
	b.record("button:" + name)
	return b.takeError("button")
}

// LaunchApp records a launch and moves the app to the foreground.
func (b *Backend) LaunchApp(ctx context.Context, appID string) error {
	b.record("launch:" + appID)
	if err := b.takeError("launch"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreground = appID
	return nil
}

// TerminateApp records a terminate and clears the foreground if it matches.
func (b *Backend) TerminateApp(ctx context.Context, appID string) error {
	b.record("terminate:" + appID)
	if err := b.takeError("terminate"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.foreground == appID {
		b.foreground = ""
	}
	return nil
}

// ForegroundApp returns the scripted foreground app.
func (b *Backend) ForegroundApp(ctx context.Context) (string, error) {
	b.record("foreground")
	if err := b.takeError("foreground"); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.foreground, nil
}

// Screenshot returns the scripted screenshot payload.
func (b *Backend) Screenshot(ctx context.Context) ([]byte, error) {
	b.record("screenshot")
	if err := b.takeError("screenshot"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screenshot, nil
}

// minimalPNG returns a valid 1x1 transparent PNG.
func minimalPNG() []byte {
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}
}
