// Package locator defines the declarative element locator model: ordered
// fallback chains of strategies, from stable semantic identifiers down to
// raw coordinates. Pure data structures - the resolver decides how to
// execute them.
package locator

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a locator strategy family. The zero value is the most
// stable strategy; higher values are progressively more fragile fallbacks.
type Kind int

const (
	KindSemanticID Kind = iota // Resource ID or accessibility ID
	KindText                   // Visible text match
	KindRelative               // Position relative to an anchor element
	KindImage                  // Image template match
	KindCoordinate             // Raw screen coordinates, last resort
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindSemanticID:
		return "semantic_id"
	case KindText:
		return "text"
	case KindRelative:
		return "relative_layout"
	case KindImage:
		return "image_template"
	case KindCoordinate:
		return "coordinate"
	default:
		return "unknown"
	}
}

// ParseKind parses a strategy kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "semantic_id", "id":
		return KindSemanticID, nil
	case "text":
		return KindText, nil
	case "relative_layout", "relative":
		return KindRelative, nil
	case "image_template", "image":
		return KindImage, nil
	case "coordinate", "point":
		return KindCoordinate, nil
	default:
		return 0, fmt.Errorf("unknown strategy kind: %q", s)
	}
}

// DefaultConfidence returns the confidence rank for a strategy kind.
func DefaultConfidence(k Kind) float64 {
	switch k {
	case KindSemanticID:
		return 1.0
	case KindText:
		return 0.9
	case KindRelative:
		return 0.75
	case KindImage:
		return 0.6
	case KindCoordinate:
		return 0.3
	default:
		return 0
	}
}

// DefaultTimeout returns the per-attempt timeout for a strategy kind.
// Image matching gets longer because template search is slow.
func DefaultTimeout(k Kind) time.Duration {
	switch k {
	case KindImage:
		return 3 * time.Second
	case KindCoordinate:
		return 1 * time.Second
	default:
		return 2 * time.Second
	}
}

// DefaultAttempts returns the attempt count for a strategy kind.
func DefaultAttempts(k Kind) int {
	return 2
}

// TextMatch selects how text strategies compare values
type TextMatch int

const (
	MatchExact TextMatch = iota
	MatchContains
	MatchRegex
)

// String returns the string representation of TextMatch
func (m TextMatch) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchContains:
		return "contains"
	case MatchRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// ParseTextMatch parses a text match mode name.
func ParseTextMatch(s string) (TextMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return MatchExact, nil
	case "contains":
		return MatchContains, nil
	case "regex":
		return MatchRegex, nil
	default:
		return 0, fmt.Errorf("unknown text match mode: %q", s)
	}
}

// Text is the payload of a text strategy
type Text struct {
	Value string    `yaml:"value" json:"value"`
	Match TextMatch `yaml:"-" json:"match"`
}

// Relation describes how a relative strategy sits against its anchor
type Relation int

const (
	RelChildOf Relation = iota
	RelBelow
	RelAbove
	RelLeftOf
	RelRightOf
)

// String returns the string representation of Relation
func (r Relation) String() string {
	switch r {
	case RelChildOf:
		return "childOf"
	case RelBelow:
		return "below"
	case RelAbove:
		return "above"
	case RelLeftOf:
		return "leftOf"
	case RelRightOf:
		return "rightOf"
	default:
		return "unknown"
	}
}

// Relative is the payload of a relative-layout strategy. The anchor is
// located by ID when set, otherwise by text.
type Relative struct {
	Relation   Relation `json:"relation"`
	AnchorID   string   `yaml:"anchorId" json:"anchorId,omitempty"`
	AnchorText string   `yaml:"anchorText" json:"anchorText,omitempty"`
}

// Image is the payload of an image-template strategy
type Image struct {
	Template  string  `yaml:"template" json:"template"`   // Path to the template PNG
	Threshold float64 `yaml:"threshold" json:"threshold"` // Match threshold 0..1, 0 means backend default
}

// Coordinate is the payload of a coordinate strategy. Percent coordinates
// are fractions of the screen size resolved at run time.
type Coordinate struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Percent bool    `json:"percent"`
}

// ParsePoint parses "x, y" coordinates in either percentage form
// ("85%, 50%") or absolute pixels ("540, 960").
func ParsePoint(s string) (Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("expected 'x, y' format, got: %q", s)
	}

	xs := strings.TrimSpace(parts[0])
	ys := strings.TrimSpace(parts[1])
	percent := strings.HasSuffix(xs, "%") || strings.HasSuffix(ys, "%")
	if percent && (!strings.HasSuffix(xs, "%") || !strings.HasSuffix(ys, "%")) {
		return Coordinate{}, fmt.Errorf("mixed percent and absolute coordinates: %q", s)
	}

	x, err := strconv.ParseFloat(strings.TrimSuffix(xs, "%"), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid x coordinate: %q", parts[0])
	}
	y, err := strconv.ParseFloat(strings.TrimSuffix(ys, "%"), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("invalid y coordinate: %q", parts[1])
	}

	if percent {
		if x < 0 || x > 100 || y < 0 || y > 100 {
			return Coordinate{}, fmt.Errorf("percent coordinates must be within 0-100: %q", s)
		}
		return Coordinate{X: x / 100, Y: y / 100, Percent: true}, nil
	}
	if x < 0 || y < 0 {
		return Coordinate{}, fmt.Errorf("absolute coordinates must not be negative: %q", s)
	}
	return Coordinate{X: x, Y: y}, nil
}

// Strategy is one step of a fallback chain. Exactly one payload field is
// populated, selected by Kind.
type Strategy struct {
	Kind Kind `json:"kind"`

	ID         string      `json:"id,omitempty"`
	Text       *Text       `json:"text,omitempty"`
	Relative   *Relative   `json:"relative,omitempty"`
	Image      *Image      `json:"image,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`

	// Optional per-strategy overrides. Zero values fall back to the kind
	// defaults.
	Timeout    time.Duration `json:"timeoutMs,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
}

// ByID builds a semantic-id strategy.
func ByID(id string) Strategy {
	return Strategy{Kind: KindSemanticID, ID: id}
}

// ByText builds an exact text strategy.
func ByText(value string) Strategy {
	return Strategy{Kind: KindText, Text: &Text{Value: value, Match: MatchExact}}
}

// ByTextContains builds a substring text strategy.
func ByTextContains(value string) Strategy {
	return Strategy{Kind: KindText, Text: &Text{Value: value, Match: MatchContains}}
}

// ByRelative builds a relative-layout strategy.
func ByRelative(rel Relation, anchorID, anchorText string) Strategy {
	return Strategy{Kind: KindRelative, Relative: &Relative{Relation: rel, AnchorID: anchorID, AnchorText: anchorText}}
}

// ByImage builds an image-template strategy.
func ByImage(template string, threshold float64) Strategy {
	return Strategy{Kind: KindImage, Image: &Image{Template: template, Threshold: threshold}}
}

// ByPoint builds a coordinate strategy from an "x, y" point string.
// Panics on malformed input; use ParsePoint for untrusted data.
func ByPoint(point string) Strategy {
	c, err := ParsePoint(point)
	if err != nil {
		panic(err)
	}
	return Strategy{Kind: KindCoordinate, Coordinate: &c}
}

// EffectiveTimeout returns the strategy timeout or its kind default.
func (s Strategy) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout(s.Kind)
}

// EffectiveAttempts returns the strategy attempt count or its kind default.
func (s Strategy) EffectiveAttempts() int {
	if s.Attempts > 0 {
		return s.Attempts
	}
	return DefaultAttempts(s.Kind)
}

// EffectiveConfidence returns the strategy confidence or its kind default.
func (s Strategy) EffectiveConfidence() float64 {
	if s.Confidence > 0 {
		return s.Confidence
	}
	return DefaultConfidence(s.Kind)
}

// Validate checks that exactly one payload is set and matches Kind.
func (s Strategy) Validate() error {
	populated := 0
	if s.ID != "" {
		populated++
	}
	if s.Text != nil {
		populated++
	}
	if s.Relative != nil {
		populated++
	}
	if s.Image != nil {
		populated++
	}
	if s.Coordinate != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("strategy must have exactly one payload, has %d", populated)
	}

	switch s.Kind {
	case KindSemanticID:
		if s.ID == "" {
			return fmt.Errorf("semantic_id strategy requires an id")
		}
	case KindText:
		if s.Text == nil || s.Text.Value == "" {
			return fmt.Errorf("text strategy requires a value")
		}
	case KindRelative:
		if s.Relative == nil {
			return fmt.Errorf("relative_layout strategy requires an anchor")
		}
		if s.Relative.AnchorID == "" && s.Relative.AnchorText == "" {
			return fmt.Errorf("relative_layout strategy requires anchorId or anchorText")
		}
	case KindImage:
		if s.Image == nil || s.Image.Template == "" {
			return fmt.Errorf("image_template strategy requires a template path")
		}
		if s.Image.Threshold < 0 || s.Image.Threshold > 1 {
			return fmt.Errorf("image_template threshold must be within 0..1, got %v", s.Image.Threshold)
		}
	case KindCoordinate:
		if s.Coordinate == nil {
			return fmt.Errorf("coordinate strategy requires a point")
		}
	default:
		return fmt.Errorf("unknown strategy kind: %d", int(s.Kind))
	}

	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence must be within 0..1, got %v", s.Confidence)
	}
	if s.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative, got %d", s.Attempts)
	}
	return nil
}

// Describe returns a short human-readable form for logs and diagnostics.
func (s Strategy) Describe() string {
	switch s.Kind {
	case KindSemanticID:
		return fmt.Sprintf("semantic_id(%q)", s.ID)
	case KindText:
		if s.Text == nil {
			return "text(?)"
		}
		return fmt.Sprintf("text(%s:%q)", s.Text.Match, s.Text.Value)
	case KindRelative:
		if s.Relative == nil {
			return "relative_layout(?)"
		}
		anchor := s.Relative.AnchorID
		if anchor == "" {
			anchor = fmt.Sprintf("text:%q", s.Relative.AnchorText)
		}
		return fmt.Sprintf("relative_layout(%s %s)", s.Relative.Relation, anchor)
	case KindImage:
		if s.Image == nil {
			return "image_template(?)"
		}
		return fmt.Sprintf("image_template(%q)", s.Image.Template)
	case KindCoordinate:
		if s.Coordinate == nil {
			return "coordinate(?)"
		}
		if s.Coordinate.Percent {
			return fmt.Sprintf("coordinate(%.0f%%, %.0f%%)", s.Coordinate.X*100, s.Coordinate.Y*100)
		}
		return fmt.Sprintf("coordinate(%.0f, %.0f)", s.Coordinate.X, s.Coordinate.Y)
	default:
		return "unknown"
	}
}

// Chain is an ordered list of fallback strategies, tried first to last.
type Chain []Strategy

// Validate checks the chain is non-empty and every strategy is valid.
func (c Chain) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("chain must have at least one strategy")
	}
	for i, s := range c {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("strategy %d (%s): %w", i, s.Kind, err)
		}
	}
	return nil
}

// Element is a logical UI element: a stable identity plus its fallback
// chain. The identity keys the resolver's hint cache.
type Element struct {
	Screen string `json:"screen"`
	Name   string `json:"name"`
	Chain  Chain  `json:"chain"`
}

// NewElement builds an element reference.
func NewElement(screen, name string, chain Chain) *Element {
	return &Element{Screen: screen, Name: name, Chain: chain}
}

// Key returns the element's cache identity.
func (e *Element) Key() string {
	return e.Screen + "/" + e.Name
}

// String implements fmt.Stringer.
func (e *Element) String() string {
	return e.Key()
}
