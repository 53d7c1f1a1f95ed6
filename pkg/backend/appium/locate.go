package appium

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// selector is one engine-native find strategy to try.
type selector struct {
	using string
	value string
}

// LocateID finds a node by resource id or accessibility id.
func (b *Backend) LocateID(ctx context.Context, id string) (core.Node, error) {
	handle, err := b.findFirst(ctx, b.idSelectors(id))
	if err != nil {
		return core.Node{}, fmt.Errorf("id %q: %w", id, err)
	}
	return b.elementNode(ctx, handle)
}

// LocateText finds a node by visible text.
func (b *Backend) LocateText(ctx context.Context, q locator.Text) (core.Node, error) {
	handle, err := b.findFirst(ctx, b.textSelectors(q))
	if err != nil {
		return core.Node{}, fmt.Errorf("text %q: %w", q.Value, err)
	}
	node, err := b.elementNode(ctx, handle)
	if err != nil {
		return core.Node{}, err
	}
	if text, terr := b.elementText(ctx, handle); terr == nil {
		node.Text = text
	}
	return node, nil
}

// LocateRelative finds a node by its geometric relation to an anchor. The
// engine has no native relation queries, so this parses the page source
// once and resolves the relation against the flattened hierarchy.
func (b *Backend) LocateRelative(ctx context.Context, q locator.Relative) (core.Node, error) {
	source, err := b.Source(ctx)
	if err != nil {
		return core.Node{}, err
	}
	nodes, err := parseSource(source)
	if err != nil {
		return core.Node{}, err
	}

	anchor := findAnchor(nodes, q)
	if anchor == nil {
		return core.Node{}, fmt.Errorf("%s not found", describeAnchor(q))
	}
	target := relatedNode(nodes, anchor, q.Relation)
	if target == nil {
		return core.Node{}, fmt.Errorf("no element %s %s", q.Relation, describeAnchor(q))
	}

	// Page source nodes have no element handle; actions on this node go
	// through its bounds.
	return core.Node{Bounds: target.bounds, Text: target.displayText()}, nil
}

// LocateTemplate finds a node by image template match, via the Appium
// images plugin's -image strategy.
func (b *Backend) LocateTemplate(ctx context.Context, q locator.Image) (core.Node, error) {
	data, err := os.ReadFile(q.Template)
	if err != nil {
		return core.Node{}, fmt.Errorf("read template: %w", err)
	}

	if q.Threshold > 0 && q.Threshold != b.lastThreshold {
		if err := b.setSettings(ctx, map[string]interface{}{
			"imageMatchThreshold": q.Threshold,
		}); err != nil {
			return core.Node{}, fmt.Errorf("set match threshold: %w", err)
		}
		b.lastThreshold = q.Threshold
	}

	handle, err := b.findElement(ctx, "-image", base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return core.Node{}, fmt.Errorf("template %q: %w", q.Template, err)
	}
	return b.elementNode(ctx, handle)
}

func (b *Backend) idSelectors(id string) []selector {
	escaped := escapeQuotes(id)
	if b.platform == "ios" {
		return []selector{
			{"accessibility id", id},
			{"-ios predicate string", fmt.Sprintf(`name == "%s"`, escaped)},
		}
	}
	// UiAutomator resource-id match first: resource ids usually carry a
	// package prefix the caller omits.
	return []selector{
		{"-android uiautomator", fmt.Sprintf(`new UiSelector().resourceIdMatches(".*%s.*")`, escaped)},
		{"id", id},
		{"accessibility id", id},
	}
}

func (b *Backend) textSelectors(q locator.Text) []selector {
	escaped := escapeQuotes(q.Value)
	if b.platform == "ios" {
		switch q.Match {
		case locator.MatchContains:
			return []selector{{"-ios predicate string",
				fmt.Sprintf(`label CONTAINS "%s" OR name CONTAINS "%s" OR value CONTAINS "%s"`, escaped, escaped, escaped)}}
		case locator.MatchRegex:
			return []selector{{"-ios predicate string",
				fmt.Sprintf(`label MATCHES "%s" OR name MATCHES "%s"`, escaped, escaped)}}
		default:
			return []selector{{"-ios predicate string",
				fmt.Sprintf(`label == "%s" OR name == "%s" OR value == "%s"`, escaped, escaped, escaped)}}
		}
	}

	switch q.Match {
	case locator.MatchContains:
		return []selector{
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().textContains("%s")`, escaped)},
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().descriptionContains("%s")`, escaped)},
		}
	case locator.MatchRegex:
		return []selector{
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().textMatches("%s")`, escaped)},
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().descriptionMatches("%s")`, escaped)},
		}
	default:
		return []selector{
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().text("%s")`, escaped)},
			{"-android uiautomator", fmt.Sprintf(`new UiSelector().description("%s")`, escaped)},
		}
	}
}

// findFirst tries selectors in order and returns the first element handle.
func (b *Backend) findFirst(ctx context.Context, selectors []selector) (string, error) {
	var lastErr error
	for _, sel := range selectors {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		handle, err := b.findElement(ctx, sel.using, sel.value)
		if err == nil && handle != "" {
			return handle, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no such element")
	}
	return "", lastErr
}

func (b *Backend) findElement(ctx context.Context, using, value string) (string, error) {
	body := map[string]interface{}{
		"using": using,
		"value": value,
	}
	resp, err := b.post(ctx, b.sessionPath()+"/element", body)
	if err != nil {
		return "", err
	}

	elemValue, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("no such element")
	}
	if errMsg, ok := elemValue["error"].(string); ok {
		return "", fmt.Errorf("%s", errMsg)
	}

	handle := extractElementID(elemValue)
	if handle == "" {
		return "", fmt.Errorf("no such element")
	}
	return handle, nil
}

// elementNode builds a node from an element handle, fetching its bounds.
func (b *Backend) elementNode(ctx context.Context, handle string) (core.Node, error) {
	resp, err := b.get(ctx, b.elementPath(handle)+"/rect")
	if err != nil {
		return core.Node{}, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return core.Node{}, fmt.Errorf("invalid rect response")
	}

	xf, _ := value["x"].(float64)
	yf, _ := value["y"].(float64)
	wf, _ := value["width"].(float64)
	hf, _ := value["height"].(float64)
	return core.Node{
		Handle: handle,
		Bounds: core.Bounds{X: int(xf), Y: int(yf), Width: int(wf), Height: int(hf)},
	}, nil
}

func (b *Backend) elementText(ctx context.Context, handle string) (string, error) {
	resp, err := b.get(ctx, b.elementPath(handle)+"/text")
	if err != nil {
		return "", err
	}
	text, _ := resp["value"].(string)
	return text, nil
}

func describeAnchor(q locator.Relative) string {
	if q.AnchorID != "" {
		return fmt.Sprintf("anchor id %q", q.AnchorID)
	}
	return fmt.Sprintf("anchor text %q", q.AnchorText)
}

// escapeQuotes escapes quotes and backslashes for engine selector strings.
func escapeQuotes(s string) string {
	var result string
	for _, c := range s {
		switch c {
		case '"':
			result += `\"`
		case '\\':
			result += `\\`
		default:
			result += string(c)
		}
	}
	return result
}
