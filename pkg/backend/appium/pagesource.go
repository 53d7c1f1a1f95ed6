package appium

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// uiNode is one element of the page source hierarchy, flattened with
// absolute bounds so relation queries run locally instead of issuing a
// round trip per element.
type uiNode struct {
	bounds      core.Bounds
	text        string
	resourceID  string
	contentDesc string
	className   string
	name        string // iOS accessibility identifier
	label       string // iOS accessibility label
	value       string // iOS current value
	clickable   bool
	visible     bool
	depth       int
	children    []*uiNode
}

func (n *uiNode) leaf() bool { return len(n.children) == 0 }

func (n *uiNode) displayText() string {
	switch {
	case n.text != "":
		return n.text
	case n.label != "":
		return n.label
	case n.contentDesc != "":
		return n.contentDesc
	default:
		return n.value
	}
}

// parseSource parses page source XML from either platform into a flat,
// depth-annotated node list in document order.
func parseSource(xmlData string) ([]*uiNode, error) {
	ios := strings.Contains(xmlData, "XCUIElementType") || strings.Contains(xmlData, "AppiumAUT")
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var parse func() (*uiNode, error)
	parse = func() (*uiNode, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				// Document wrappers carry no geometry of their own
				if t.Name.Local == "hierarchy" || t.Name.Local == "AppiumAUT" {
					continue
				}

				node := &uiNode{className: t.Name.Local, visible: true}
				for _, attr := range t.Attr {
					if ios {
						applyIOSAttr(node, attr)
					} else {
						applyAndroidAttr(node, attr)
					}
				}

				for {
					child, err := parse()
					if err != nil || child == nil {
						break
					}
					node.children = append(node.children, child)
				}
				return node, nil

			case xml.EndElement:
				return nil, nil
			}
		}
	}

	var roots []*uiNode
	for {
		node, err := parse()
		if err != nil {
			if err != io.EOF && len(roots) == 0 {
				return nil, err
			}
			break
		}
		if node != nil {
			roots = append(roots, node)
		}
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no elements in page source")
	}
	return flatten(roots), nil
}

func flatten(roots []*uiNode) []*uiNode {
	var out []*uiNode
	var walk func(n *uiNode, depth int)
	walk = func(n *uiNode, depth int) {
		n.depth = depth
		out = append(out, n)
		for _, c := range n.children {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return out
}

func applyAndroidAttr(n *uiNode, attr xml.Attr) {
	switch attr.Name.Local {
	case "text":
		n.text = attr.Value
	case "resource-id":
		n.resourceID = attr.Value
	case "content-desc":
		n.contentDesc = attr.Value
	case "class":
		n.className = attr.Value
	case "bounds":
		n.bounds = parseAndroidBounds(attr.Value)
	case "clickable":
		n.clickable = attr.Value == "true"
	case "displayed":
		n.visible = attr.Value != "false"
	}
}

func applyIOSAttr(n *uiNode, attr xml.Attr) {
	switch attr.Name.Local {
	case "type":
		n.className = attr.Value
	case "name":
		n.name = attr.Value
	case "label":
		n.label = attr.Value
	case "value":
		n.value = attr.Value
	case "visible":
		n.visible = attr.Value == "true"
	case "enabled":
		n.clickable = attr.Value == "true"
	case "x":
		n.bounds.X = atoi(attr.Value)
	case "y":
		n.bounds.Y = atoi(attr.Value)
	case "width":
		n.bounds.Width = atoi(attr.Value)
	case "height":
		n.bounds.Height = atoi(attr.Value)
	}
}

// parseAndroidBounds parses the Android bounds form "[x1,y1][x2,y2]".
func parseAndroidBounds(s string) core.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}
	x1, y1 := atoi(parts[0]), atoi(parts[1])
	x2, y2 := atoi(parts[2]), atoi(parts[3])
	return core.Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

// findAnchor returns the first node matching the relative query's anchor,
// in document order.
func findAnchor(nodes []*uiNode, q locator.Relative) *uiNode {
	for _, n := range nodes {
		if q.AnchorID != "" {
			if matchesID(n, q.AnchorID) {
				return n
			}
			continue
		}
		if matchesText(n, q.AnchorText) {
			return n
		}
	}
	return nil
}

func matchesID(n *uiNode, id string) bool {
	if n.resourceID == id || n.contentDesc == id || n.name == id {
		return true
	}
	// Android resource ids carry a package prefix, "pkg:id/name"
	if i := strings.LastIndex(n.resourceID, "/"); i >= 0 && n.resourceID[i+1:] == id {
		return true
	}
	return false
}

func matchesText(n *uiNode, text string) bool {
	if text == "" {
		return false
	}
	return n.text == text || n.label == text || n.value == text || n.contentDesc == text
}

// relatedNode picks the candidate standing in the given relation to the
// anchor: visible leaves only, nearest first, clickable preferred.
func relatedNode(nodes []*uiNode, anchor *uiNode, rel locator.Relation) *uiNode {
	var candidates []*uiNode
	for _, n := range nodes {
		if n == anchor || !n.visible || !n.leaf() {
			continue
		}
		if n.bounds.Width <= 0 || n.bounds.Height <= 0 {
			continue
		}
		if inRelation(n, anchor, rel) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return relationDistance(candidates[i], anchor, rel) < relationDistance(candidates[j], anchor, rel)
	})
	for _, c := range candidates {
		if c.clickable {
			return c
		}
	}
	return candidates[0]
}

func inRelation(n, anchor *uiNode, rel locator.Relation) bool {
	a, c := anchor.bounds, n.bounds
	switch rel {
	case locator.RelBelow:
		return c.Y >= a.Y+a.Height
	case locator.RelAbove:
		return c.Y+c.Height <= a.Y
	case locator.RelLeftOf:
		return c.X+c.Width <= a.X
	case locator.RelRightOf:
		return c.X >= a.X+a.Width
	case locator.RelChildOf:
		return c.X >= a.X && c.Y >= a.Y &&
			c.X+c.Width <= a.X+a.Width && c.Y+c.Height <= a.Y+a.Height
	default:
		return false
	}
}

// relationDistance is the gap between candidate and anchor along the
// relation axis. Children rank by document order instead.
func relationDistance(n, anchor *uiNode, rel locator.Relation) int {
	a, c := anchor.bounds, n.bounds
	switch rel {
	case locator.RelBelow:
		return c.Y - (a.Y + a.Height)
	case locator.RelAbove:
		return a.Y - (c.Y + c.Height)
	case locator.RelLeftOf:
		return a.X - (c.X + c.Width)
	case locator.RelRightOf:
		return c.X - (a.X + a.Width)
	default:
		return 0
	}
}
