package locator

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Library is a named collection of element definitions, grouped by screen:
//
//	screens:
//	  login:
//	    username_field:
//	      - id: com.app:id/username
//	      - text: { value: Username, match: contains }
//	      - "50%, 35%"
//	    submit_button:
//	      - "#com.app:id/submit"
//	      - "Log in"
//	      - below: { anchorId: com.app:id/username }
//	      - image: { template: templates/submit.png, threshold: 0.8 }
type Library struct {
	Screens map[string]map[string]Chain `yaml:"screens"`
}

// LoadLibrary reads an element library from a YAML file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read element library: %w", err)
	}
	lib, err := ParseLibrary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse element library %s: %w", path, err)
	}
	return lib, nil
}

// ParseLibrary parses an element library from YAML bytes.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, err
	}
	return &lib, nil
}

// Element returns the element definition for screen/name.
func (l *Library) Element(screen, name string) (*Element, error) {
	elements, ok := l.Screens[screen]
	if !ok {
		return nil, fmt.Errorf("unknown screen: %q", screen)
	}
	chain, ok := elements[name]
	if !ok {
		return nil, fmt.Errorf("unknown element: %q on screen %q", name, screen)
	}
	return NewElement(screen, name, chain), nil
}

// Elements returns every element definition in deterministic order.
func (l *Library) Elements() []*Element {
	var out []*Element
	for _, screen := range sortedKeys(l.Screens) {
		elements := l.Screens[screen]
		for _, name := range sortedKeys(elements) {
			out = append(out, NewElement(screen, name, elements[name]))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Severity classifies a lint finding
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Finding is one lint result for an element definition
type Finding struct {
	Element  string
	Severity Severity
	Message  string
}

// Lint validates every chain in the library and reports findings. Errors
// make a chain unusable; warnings flag fragile definitions.
func (l *Library) Lint() []Finding {
	var findings []Finding
	for _, el := range l.Elements() {
		key := el.Key()

		if len(el.Chain) == 0 {
			findings = append(findings, Finding{key, SeverityError, "chain has no strategies"})
			continue
		}
		for i, s := range el.Chain {
			if err := s.Validate(); err != nil {
				findings = append(findings, Finding{key, SeverityError, fmt.Sprintf("strategy %d: %v", i, err)})
			}
		}

		for i := 1; i < len(el.Chain); i++ {
			if el.Chain[i].Kind < el.Chain[i-1].Kind {
				findings = append(findings, Finding{
					key, SeverityWarning,
					fmt.Sprintf("strategy %d (%s) is more stable than its predecessor (%s); chains usually run stable to fragile",
						i, el.Chain[i].Kind, el.Chain[i-1].Kind),
				})
			}
		}

		if len(el.Chain) == 1 && el.Chain[0].Kind == KindCoordinate {
			findings = append(findings, Finding{key, SeverityWarning, "chain has only a coordinate strategy and will break on layout changes"})
		}
	}
	return findings
}

// strategyRaw mirrors the YAML mapping form of a strategy. Exactly one
// payload key must be present; relative payloads use the relation name
// (below, childOf, ...) as their key.
type strategyRaw struct {
	ID         string     `yaml:"id"`
	Text       *textRaw   `yaml:"text"`
	ChildOf    *anchorRaw `yaml:"childOf"`
	Below      *anchorRaw `yaml:"below"`
	Above      *anchorRaw `yaml:"above"`
	LeftOf     *anchorRaw `yaml:"leftOf"`
	RightOf    *anchorRaw `yaml:"rightOf"`
	Image      *imageRaw  `yaml:"image"`
	Point      string     `yaml:"point"`
	TimeoutMs  int        `yaml:"timeoutMs"`
	Attempts   int        `yaml:"attempts"`
	Confidence float64    `yaml:"confidence"`
}

// UnmarshalYAML allows a strategy to be written as a scalar shorthand or a
// mapping. Scalars: "#id" selects by semantic id, "x%, y%" (or "x, y" with
// numbers) by coordinate, anything else by exact text.
func (s *Strategy) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return s.fromScalar(node.Value)
	}

	var raw strategyRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return s.fromRaw(raw)
}

func (s *Strategy) fromScalar(v string) error {
	if strings.HasPrefix(v, "#") {
		*s = ByID(strings.TrimPrefix(v, "#"))
		return nil
	}
	if c, err := ParsePoint(v); err == nil {
		*s = Strategy{Kind: KindCoordinate, Coordinate: &c}
		return nil
	}
	*s = ByText(v)
	return nil
}

func (s *Strategy) fromRaw(raw strategyRaw) error {
	out := Strategy{
		Timeout:    time.Duration(raw.TimeoutMs) * time.Millisecond,
		Attempts:   raw.Attempts,
		Confidence: raw.Confidence,
	}

	populated := 0
	if raw.ID != "" {
		populated++
		out.Kind = KindSemanticID
		out.ID = raw.ID
	}
	if raw.Text != nil {
		populated++
		match, err := ParseTextMatch(raw.Text.Match)
		if err != nil {
			return err
		}
		out.Kind = KindText
		out.Text = &Text{Value: raw.Text.Value, Match: match}
	}
	for rel, anchor := range map[Relation]*anchorRaw{
		RelChildOf: raw.ChildOf,
		RelBelow:   raw.Below,
		RelAbove:   raw.Above,
		RelLeftOf:  raw.LeftOf,
		RelRightOf: raw.RightOf,
	} {
		if anchor == nil {
			continue
		}
		populated++
		out.Kind = KindRelative
		out.Relative = &Relative{Relation: rel, AnchorID: anchor.AnchorID, AnchorText: anchor.AnchorText}
	}
	if raw.Image != nil {
		populated++
		out.Kind = KindImage
		out.Image = &Image{Template: raw.Image.Template, Threshold: raw.Image.Threshold}
	}
	if raw.Point != "" {
		populated++
		c, err := ParsePoint(raw.Point)
		if err != nil {
			return err
		}
		out.Kind = KindCoordinate
		out.Coordinate = &c
	}

	if populated != 1 {
		return fmt.Errorf("strategy must have exactly one of id, text, childOf/below/above/leftOf/rightOf, image, point (has %d)", populated)
	}

	*s = out
	return nil
}

// textRaw accepts either a scalar value or {value, match}.
type textRaw struct {
	Value string
	Match string
}

// UnmarshalYAML implements the scalar-or-mapping form for text payloads.
func (t *textRaw) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Value = node.Value
		return nil
	}
	var m struct {
		Value string `yaml:"value"`
		Match string `yaml:"match"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	t.Value = m.Value
	t.Match = m.Match
	return nil
}

// anchorRaw accepts either a scalar anchor ("#id" or text) or
// {anchorId, anchorText}.
type anchorRaw struct {
	AnchorID   string
	AnchorText string
}

// UnmarshalYAML implements the scalar-or-mapping form for anchors.
func (a *anchorRaw) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if strings.HasPrefix(node.Value, "#") {
			a.AnchorID = strings.TrimPrefix(node.Value, "#")
		} else {
			a.AnchorText = node.Value
		}
		return nil
	}
	var m struct {
		AnchorID   string `yaml:"anchorId"`
		AnchorText string `yaml:"anchorText"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	a.AnchorID = m.AnchorID
	a.AnchorText = m.AnchorText
	return nil
}

// imageRaw accepts either a scalar template path or {template, threshold}.
type imageRaw struct {
	Template  string
	Threshold float64
}

// UnmarshalYAML implements the scalar-or-mapping form for image payloads.
func (i *imageRaw) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		i.Template = node.Value
		return nil
	}
	var m struct {
		Template  string  `yaml:"template"`
		Threshold float64 `yaml:"threshold"`
	}
	if err := node.Decode(&m); err != nil {
		return err
	}
	i.Template = m.Template
	i.Threshold = m.Threshold
	return nil
}
