package locator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleLibrary = `
screens:
  login:
    username_field:
      - id: com.app:id/username
      - text: { value: Username, match: contains }
      - "50%, 35%"
    submit_button:
      - "#com.app:id/submit"
      - "Log in"
      - below: { anchorId: com.app:id/username }
      - image: { template: templates/submit.png, threshold: 0.8 }
      - point: "85%, 90%"
  home:
    menu:
      - id: com.app:id/menu
        timeoutMs: 500
        attempts: 3
        confidence: 0.95
`

func TestParseLibrary(t *testing.T) {
	lib, err := ParseLibrary([]byte(sampleLibrary))
	if err != nil {
		t.Fatalf("ParseLibrary() error = %v", err)
	}

	el, err := lib.Element("login", "submit_button")
	if err != nil {
		t.Fatalf("Element() error = %v", err)
	}
	if len(el.Chain) != 5 {
		t.Fatalf("chain length = %d, want 5", len(el.Chain))
	}

	wantKinds := []Kind{KindSemanticID, KindText, KindRelative, KindImage, KindCoordinate}
	for i, want := range wantKinds {
		if el.Chain[i].Kind != want {
			t.Errorf("strategy %d kind = %v, want %v", i, el.Chain[i].Kind, want)
		}
	}

	if el.Chain[0].ID != "com.app:id/submit" {
		t.Errorf("shorthand id = %q, want %q", el.Chain[0].ID, "com.app:id/submit")
	}
	if el.Chain[1].Text == nil || el.Chain[1].Text.Value != "Log in" || el.Chain[1].Text.Match != MatchExact {
		t.Errorf("shorthand text = %+v, want exact %q", el.Chain[1].Text, "Log in")
	}
	rel := el.Chain[2].Relative
	if rel == nil || rel.Relation != RelBelow || rel.AnchorID != "com.app:id/username" {
		t.Errorf("relative = %+v, want below anchored on username id", rel)
	}
	img := el.Chain[3].Image
	if img == nil || img.Template != "templates/submit.png" || img.Threshold != 0.8 {
		t.Errorf("image = %+v, want template with threshold 0.8", img)
	}
	coord := el.Chain[4].Coordinate
	if coord == nil || !coord.Percent || coord.X != 0.85 || coord.Y != 0.9 {
		t.Errorf("coordinate = %+v, want percent (0.85, 0.9)", coord)
	}
}

func TestParseLibrary_TextMatchModes(t *testing.T) {
	lib, err := ParseLibrary([]byte(sampleLibrary))
	if err != nil {
		t.Fatalf("ParseLibrary() error = %v", err)
	}

	el, err := lib.Element("login", "username_field")
	if err != nil {
		t.Fatalf("Element() error = %v", err)
	}
	if el.Chain[1].Text.Match != MatchContains {
		t.Errorf("text match = %v, want contains", el.Chain[1].Text.Match)
	}
}

func TestParseLibrary_StrategyOverrides(t *testing.T) {
	lib, err := ParseLibrary([]byte(sampleLibrary))
	if err != nil {
		t.Fatalf("ParseLibrary() error = %v", err)
	}

	el, err := lib.Element("home", "menu")
	if err != nil {
		t.Fatalf("Element() error = %v", err)
	}
	s := el.Chain[0]
	if s.Timeout != 500*time.Millisecond {
		t.Errorf("timeout = %v, want 500ms", s.Timeout)
	}
	if s.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", s.Attempts)
	}
	if s.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", s.Confidence)
	}
}

func TestParseLibrary_RejectsAmbiguousStrategy(t *testing.T) {
	_, err := ParseLibrary([]byte(`
screens:
  login:
    bad:
      - id: com.app:id/x
        text: also text
`))
	if err == nil {
		t.Fatal("ParseLibrary() error = nil, want ambiguity error")
	}
	if !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("error = %v, want mention of exactly one payload", err)
	}
}

func TestLibrary_ElementUnknown(t *testing.T) {
	lib, _ := ParseLibrary([]byte(sampleLibrary))

	if _, err := lib.Element("missing", "x"); err == nil {
		t.Error("Element(missing screen) error = nil, want error")
	}
	if _, err := lib.Element("login", "missing"); err == nil {
		t.Error("Element(missing element) error = nil, want error")
	}
}

func TestLibrary_ElementsDeterministicOrder(t *testing.T) {
	lib, _ := ParseLibrary([]byte(sampleLibrary))

	var keys []string
	for _, el := range lib.Elements() {
		keys = append(keys, el.Key())
	}

	want := []string{"home/menu", "login/submit_button", "login/username_field"}
	if len(keys) != len(want) {
		t.Fatalf("Elements() returned %d elements, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Elements()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elements.yaml")
	if err := os.WriteFile(path, []byte(sampleLibrary), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := LoadLibrary(path)
	if err != nil {
		t.Fatalf("LoadLibrary() error = %v", err)
	}
	if len(lib.Screens) != 2 {
		t.Errorf("screens = %d, want 2", len(lib.Screens))
	}

	if _, err := LoadLibrary(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadLibrary(missing) error = nil, want error")
	}
}

func TestLibrary_Lint(t *testing.T) {
	lib, err := ParseLibrary([]byte(`
screens:
  broken:
    empty: []
    backwards:
      - "Log in"
      - "#com.app:id/submit"
    tap_blind:
      - "50%, 50%"
`))
	if err != nil {
		t.Fatalf("ParseLibrary() error = %v", err)
	}

	findings := lib.Lint()

	found := func(element string, severity Severity, substr string) bool {
		for _, f := range findings {
			if f.Element == element && f.Severity == severity && strings.Contains(f.Message, substr) {
				return true
			}
		}
		return false
	}

	if !found("broken/empty", SeverityError, "no strategies") {
		t.Errorf("missing empty-chain error in %v", findings)
	}
	if !found("broken/backwards", SeverityWarning, "more stable") {
		t.Errorf("missing out-of-order warning in %v", findings)
	}
	if !found("broken/tap_blind", SeverityWarning, "only a coordinate") {
		t.Errorf("missing coordinate-only warning in %v", findings)
	}
}

func TestLibrary_LintCleanLibrary(t *testing.T) {
	lib, _ := ParseLibrary([]byte(sampleLibrary))

	for _, f := range lib.Lint() {
		if f.Severity == SeverityError {
			t.Errorf("unexpected lint error: %+v", f)
		}
	}
}
