// Package appium implements core.Backend against an Appium server via the
// W3C WebDriver protocol. The Appium server owns the native automation
// engines (UiAutomator2, XCUITest); this binding only speaks the wire
// protocol and maps locator strategies onto it.
package appium

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Backend holds one Appium session. Not safe for concurrent use: a session
// belongs to a single allocation holder, like every other Backend.
type Backend struct {
	serverURL string
	sessionID string
	client    *http.Client
	platform  string // ios, android
	screenW   int
	screenH   int

	// Last imageMatchThreshold pushed to the server, to skip redundant
	// settings calls between template locates.
	lastThreshold float64
}

var _ core.Backend = (*Backend)(nil)

// New creates a backend for the Appium server at serverURL.
func New(serverURL string) *Backend {
	return &Backend{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // Long ceiling; per-call contexts cut it short
		},
	}
}

// Attach creates a session with the given capabilities.
func (b *Backend) Attach(ctx context.Context, caps map[string]interface{}) error {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": caps,
		},
	}

	resp, err := b.post(ctx, "/session", body)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid session response")
	}

	b.sessionID, _ = value["sessionId"].(string)
	if b.sessionID == "" {
		return fmt.Errorf("no session ID in response")
	}

	if matched, ok := value["capabilities"].(map[string]interface{}); ok {
		if platform, ok := matched["platformName"].(string); ok {
			b.platform = strings.ToLower(platform)
		}
	}
	if b.platform == "" {
		if platform, ok := caps["platformName"].(string); ok {
			b.platform = strings.ToLower(platform)
		}
	}

	b.fetchWindowSize(ctx)

	// Engine tuning: resolution owns its own waiting, so the engine must
	// not add implicit waits of its own. Best effort.
	if b.platform == "ios" {
		b.setSettings(ctx, map[string]interface{}{
			"waitForIdleTimeout":      0,
			"animationCoolOffTimeout": 0,
		})
	} else {
		b.setSettings(ctx, map[string]interface{}{
			"waitForIdleTimeout":     0,
			"waitForSelectorTimeout": 0,
		})
	}

	return nil
}

// Detach closes the session. Safe to call on a half-open session.
func (b *Backend) Detach(ctx context.Context) error {
	if b.sessionID == "" {
		return nil
	}
	_, err := b.delete(ctx, b.sessionPath())
	b.sessionID = ""
	b.platform = ""
	b.screenW, b.screenH = 0, 0
	b.lastThreshold = 0
	return err
}

// Alive reports whether the session still answers.
func (b *Backend) Alive(ctx context.Context) error {
	if b.sessionID == "" {
		return fmt.Errorf("no active session")
	}
	_, err := b.get(ctx, b.sessionPath()+"/window/rect")
	return err
}

// WindowSize returns the screen dimensions in pixels.
func (b *Backend) WindowSize(ctx context.Context) (int, int, error) {
	if b.screenW == 0 || b.screenH == 0 {
		b.fetchWindowSize(ctx)
	}
	if b.screenW == 0 || b.screenH == 0 {
		return 0, 0, fmt.Errorf("window size unavailable")
	}
	return b.screenW, b.screenH, nil
}

// Platform returns the session platform (ios/android), empty before Attach.
func (b *Backend) Platform() string {
	return b.platform
}

func (b *Backend) fetchWindowSize(ctx context.Context) {
	resp, err := b.get(ctx, b.sessionPath()+"/window/rect")
	if err != nil {
		return
	}
	if value, ok := resp["value"].(map[string]interface{}); ok {
		if w, ok := value["width"].(float64); ok {
			b.screenW = int(w)
		}
		if h, ok := value["height"].(float64); ok {
			b.screenH = int(h)
		}
	}
}

// Touch and gesture operations (W3C actions)

func (b *Backend) performTouchAction(ctx context.Context, actions []map[string]interface{}) error {
	payload := []map[string]interface{}{
		{
			"type":       "pointer",
			"id":         "finger1",
			"parameters": map[string]interface{}{"pointerType": "touch"},
			"actions":    actions,
		},
	}
	_, err := b.post(ctx, b.sessionPath()+"/actions", map[string]interface{}{"actions": payload})
	return err
}

// Tap performs a tap at absolute coordinates.
func (b *Backend) Tap(ctx context.Context, x, y int) error {
	return b.performTouchAction(ctx, []map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": x, "y": y, "origin": "viewport"},
		{"type": "pointerDown", "button": 0},
		{"type": "pause", "duration": 50},
		{"type": "pointerUp", "button": 0},
	})
}

// Swipe performs a swipe gesture between two points.
func (b *Backend) Swipe(ctx context.Context, fromX, fromY, toX, toY int, duration time.Duration) error {
	ms := int(duration.Milliseconds())
	if ms <= 0 {
		ms = 300
	}
	return b.performTouchAction(ctx, []map[string]interface{}{
		{"type": "pointerMove", "duration": 0, "x": fromX, "y": fromY},
		{"type": "pointerDown", "button": 0},
		{"type": "pointerMove", "duration": ms, "x": toX, "y": toY},
		{"type": "pointerUp", "button": 0},
	})
}

// Text input

// InputText types into the element with the given handle, or into the
// focused field when the handle is empty.
func (b *Backend) InputText(ctx context.Context, handle, text string) error {
	if handle != "" {
		_, err := b.post(ctx, b.elementPath(handle)+"/value", map[string]interface{}{
			"text": text,
		})
		return err
	}

	var keyActions []map[string]interface{}
	for _, ch := range text {
		keyActions = append(keyActions,
			map[string]interface{}{"type": "keyDown", "value": string(ch)},
			map[string]interface{}{"type": "keyUp", "value": string(ch)},
		)
	}
	_, err := b.post(ctx, b.sessionPath()+"/actions", map[string]interface{}{
		"actions": []map[string]interface{}{
			{"type": "key", "id": "keyboard", "actions": keyActions},
		},
	})
	if err != nil {
		// Fallback: Appium active-element value endpoint
		_, err = b.post(ctx, b.sessionPath()+"/appium/element/active/value", map[string]interface{}{
			"text": text,
		})
	}
	return err
}

// ClearText clears the element's text. An empty handle clears the focused
// field.
func (b *Backend) ClearText(ctx context.Context, handle string) error {
	if handle == "" {
		resp, err := b.get(ctx, b.sessionPath()+"/element/active")
		if err != nil {
			return err
		}
		value, ok := resp["value"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("no active element")
		}
		handle = extractElementID(value)
		if handle == "" {
			return fmt.Errorf("no active element")
		}
	}
	_, err := b.post(ctx, b.elementPath(handle)+"/clear", nil)
	return err
}

// Keys and buttons

// PressKey sends an Android keycode.
func (b *Backend) PressKey(ctx context.Context, keycode int) error {
	_, err := b.post(ctx, b.sessionPath()+"/appium/device/press_keycode", map[string]interface{}{
		"keycode": keycode,
	})
	return err
}

// PressButton presses a named hardware button (iOS: home, volumeUp,
// volumeDown).
func (b *Backend) PressButton(ctx context.Context, name string) error {
	_, err := b.executeMobile(ctx, "pressButton", map[string]interface{}{
		"name": name,
	})
	return err
}

// App management

// LaunchApp brings the app to the foreground.
func (b *Backend) LaunchApp(ctx context.Context, appID string) error {
	_, err := b.post(ctx, b.sessionPath()+"/appium/device/activate_app", b.appBody(appID))
	return err
}

// TerminateApp stops the app.
func (b *Backend) TerminateApp(ctx context.Context, appID string) error {
	_, err := b.post(ctx, b.sessionPath()+"/appium/device/terminate_app", b.appBody(appID))
	return err
}

// ForegroundApp returns the identifier of the foreground app.
func (b *Backend) ForegroundApp(ctx context.Context) (string, error) {
	if b.platform == "ios" {
		value, err := b.executeMobile(ctx, "activeAppInfo", nil)
		if err != nil {
			return "", err
		}
		if info, ok := value.(map[string]interface{}); ok {
			if id, ok := info["bundleId"].(string); ok {
				return id, nil
			}
		}
		return "", fmt.Errorf("invalid activeAppInfo response")
	}

	resp, err := b.get(ctx, b.sessionPath()+"/appium/device/current_package")
	if err != nil {
		return "", err
	}
	pkg, _ := resp["value"].(string)
	return pkg, nil
}

func (b *Backend) appBody(appID string) map[string]interface{} {
	if b.platform == "ios" {
		return map[string]interface{}{"bundleId": appID}
	}
	return map[string]interface{}{"appId": appID}
}

// Screen operations

// Screenshot returns the current screen as PNG bytes.
func (b *Backend) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := b.get(ctx, b.sessionPath()+"/screenshot")
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["value"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid screenshot response")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Source returns the page source XML.
func (b *Backend) Source(ctx context.Context) (string, error) {
	resp, err := b.get(ctx, b.sessionPath()+"/source")
	if err != nil {
		return "", err
	}
	source, _ := resp["value"].(string)
	return source, nil
}

func (b *Backend) setSettings(ctx context.Context, settings map[string]interface{}) error {
	_, err := b.post(ctx, b.sessionPath()+"/appium/settings", map[string]interface{}{
		"settings": settings,
	})
	return err
}

func (b *Backend) executeMobile(ctx context.Context, command string, args map[string]interface{}) (interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	resp, err := b.post(ctx, b.sessionPath()+"/execute/sync", map[string]interface{}{
		"script": "mobile: " + command,
		"args":   []interface{}{args},
	})
	if err != nil {
		return nil, err
	}
	return resp["value"], nil
}

// HTTP helpers

func (b *Backend) sessionPath() string {
	return "/session/" + b.sessionID
}

func (b *Backend) elementPath(handle string) string {
	return b.sessionPath() + "/element/" + handle
}

func (b *Backend) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return b.request(ctx, http.MethodGet, path, nil)
}

func (b *Backend) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return b.request(ctx, http.MethodPost, path, body)
}

func (b *Backend) delete(ctx context.Context, path string) (map[string]interface{}, error) {
	return b.request(ctx, http.MethodDelete, path, nil)
}

func (b *Backend) request(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	url := b.serverURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// W3C error responses carry error and message inside value
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errMsg, ok := errValue["message"].(string); ok {
			if errType, ok := errValue["error"].(string); ok {
				return result, fmt.Errorf("%s: %s", errType, errMsg)
			}
		}
	}

	return result, nil
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}
