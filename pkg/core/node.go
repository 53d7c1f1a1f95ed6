package core

import (
	"github.com/devicelab-dev/devicepool/pkg/locator"
)

// Bounds represents element boundaries on screen
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (x, y int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Node is the actionable result of resolving an element. Coordinate-resolved
// nodes have no backend handle; actions on them go through raw gestures.
type Node struct {
	Handle     string       `json:"handle,omitempty"` // Backend element reference, empty for coordinate hits
	Text       string       `json:"text,omitempty"`
	Bounds     Bounds       `json:"bounds"`
	Strategy   locator.Kind `json:"strategy"`   // Strategy that produced this node
	Confidence float64      `json:"confidence"` // Confidence rank of that strategy
}

// Center returns the tap point for the node.
func (n Node) Center() (x, y int) {
	return n.Bounds.Center()
}
