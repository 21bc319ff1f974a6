package graphapi

import (
	"github.com/spf13/cast"
)

// GraphNode is one node of a frontend workflow.
type GraphNode struct {
	ID           NodeID         `json:"id"`
	Type         string         `json:"type"`
	Position     Pos            `json:"pos"`
	Size         Size           `json:"size"`
	Order        int            `json:"order"`
	Mode         int            `json:"mode"`
	Title        string         `json:"title,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"` // node properties, not widget values
	WidgetValues []any          `json:"widgets_values,omitempty"`
	Graph        *Graph         `json:"-"`
}

// modes the frontend stores for a node
const (
	ModeAlways = 0
	ModeNever  = 2
	ModeBypass = 4
)

func (n *GraphNode) IsVirtual() bool {
	switch n.Type {
	case "PrimitiveNode", "Reroute", "Note", "MarkdownNote":
		return true
	}
	return false
}

// IsMuted reports whether the node is skipped when the graph is queued.
func (n *GraphNode) IsMuted() bool {
	return n.Mode == ModeNever || n.Mode == ModeBypass
}

// DisplayTitle is the title shown on the canvas: the user title, else the
// "Node name for S&R" property, else the node type.
func (n *GraphNode) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	if name, ok := n.Properties["Node name for S&R"].(string); ok && name != "" {
		return name
	}
	return n.Type
}

// WidgetValue returns widgets_values[i], nil when out of range.
func (n *GraphNode) WidgetValue(i int) any {
	if i < 0 || i >= len(n.WidgetValues) {
		return nil
	}
	return n.WidgetValues[i]
}

// WidgetString returns widgets_values[i] as a string. ok is false when the index is
// out of range or the value is null or empty.
func (n *GraphNode) WidgetString(i int) (string, bool) {
	v := n.WidgetValue(i)
	if v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// WidgetStringOr is WidgetString with a fallback.
func (n *GraphNode) WidgetStringOr(i int, fallback string) string {
	if s, ok := n.WidgetString(i); ok {
		return s
	}
	return fallback
}
