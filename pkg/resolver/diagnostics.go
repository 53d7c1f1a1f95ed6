package resolver

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/devicelab-dev/devicepool/pkg/core"
)

// Attempt records the outcome of one strategy during a resolution.
type Attempt struct {
	Strategy  string       `json:"strategy"`         // Human-readable strategy form
	Kind      string       `json:"kind"`             // Strategy kind name
	Tries     int          `json:"tries"`            // Locate calls actually made
	ElapsedMS int64        `json:"elapsedMs"`        // Wall time including backoff
	Error     string       `json:"error,omitempty"`  // Empty on success
	Target    *core.Bounds `json:"target,omitempty"` // Region the attempt aimed at, when known
}

// Resolution is the full trace of one Resolve call: what was tried, in what
// order, and what won.
type Resolution struct {
	Element    string    `json:"element"`
	Class      string    `json:"deviceClass"`
	HintKind   string    `json:"hintKind,omitempty"` // Cached kind found for the element
	HintUsed   bool      `json:"hintUsed"`           // The hint reordered the chain
	Resolved   bool      `json:"resolved"`
	Winner     int       `json:"winner"` // Index into Attempts, -1 when exhausted
	Attempts   []Attempt `json:"attempts"`
	ElapsedMS  int64     `json:"elapsedMs"`
	Screenshot string    `json:"screenshot,omitempty"` // Stored failure screenshot path
}

// ResolutionError reports an exhausted fallback chain. Attempts carries
// exactly one record per strategy tried. Matches core.ErrElementNotFound
// through errors.Is.
type ResolutionError struct {
	Element  string
	Class    string
	Attempts []Attempt
}

// Error lists every strategy with its failure, so a log line alone is enough
// to see what the resolver saw.
func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "element %s not found after %d strategies", e.Element, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s failed in %dms (%d tries): %s", a.Strategy, a.ElapsedMS, a.Tries, a.Error)
	}
	return b.String()
}

// Unwrap makes the error match the element-not-found sentinel.
func (e *ResolutionError) Unwrap() error {
	return core.ErrElementNotFound
}

var markColor = color.RGBA{R: 0xE5, G: 0x39, B: 0x35, A: 0xFF}

// annotate draws the regions failed attempts targeted onto a screenshot and
// labels each with its attempt number and kind. Attempts without a known
// target are skipped; if none have one, the screenshot comes back unchanged.
func annotate(screenshot []byte, attempts []Attempt) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	marked := false
	for i, a := range attempts {
		if a.Target == nil {
			continue
		}
		marked = true
		drawBox(img, *a.Target)
		drawLabel(img, a.Target.X+4, a.Target.Y+16, fmt.Sprintf("%d %s", i+1, a.Kind))
	}
	if !marked {
		return screenshot, nil
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("failed to encode annotated screenshot: %w", err)
	}
	return out.Bytes(), nil
}

func drawBox(img *image.RGBA, b core.Bounds) {
	const stroke = 3
	rect := image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		for s := 0; s < stroke; s++ {
			img.Set(x, rect.Min.Y+s, markColor)
			img.Set(x, rect.Max.Y-1-s, markColor)
		}
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for s := 0; s < stroke; s++ {
			img.Set(rect.Min.X+s, y, markColor)
			img.Set(rect.Max.X-1-s, y, markColor)
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(markColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
