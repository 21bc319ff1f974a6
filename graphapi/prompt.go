package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID  string                `json:"client_id"`
	Nodes     map[string]PromptNode `json:"prompt"`
	ExtraData *PromptExtraData      `json:"extra_data,omitempty"`
}

type PromptNode struct {
	// Inputs can be one of:
	//	float64
	//	string
	//	[]interface{} where: [0] is string of target node
	//					     [1] is float64 (int) of slot index
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	Meta      *PromptMeta            `json:"_meta,omitempty"`
}

type PromptMeta struct {
	Title string `json:"title"`
}

type PromptExtraData struct {
	PngInfo PromptWorkflow `json:"extra_pnginfo"`
}

// PromptWorkflow is the original Graph that was used to create the Prompt.
// It is added to generated PNG files such that the information needed to
// recreate the image is available.
type PromptWorkflow struct {
	Workflow *Graph `json:"workflow"`
}

// Title returns the node's _meta title, or its class type.
func (n PromptNode) Title() string {
	if n.Meta != nil && n.Meta.Title != "" {
		return n.Meta.Title
	}
	return n.ClassType
}

// LoadPrompt reads an API format workflow, the node map saved by "Export (API)".
func LoadPrompt(r io.Reader) (*Prompt, error) {
	nodes := make(map[string]PromptNode)
	if err := json.NewDecoder(r).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decoding api workflow: %w", err)
	}
	return &Prompt{Nodes: nodes}, nil
}

func LoadPromptFile(path string) (*Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadPrompt(f)
}

// NodesWithTitle returns the ids of nodes titled title in ascending id order.
func (p *Prompt) NodesWithTitle(title string) []string {
	var ids []string
	for id, n := range p.Nodes {
		if n.Title() == title {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// SetInputByTitle sets an input on every node titled title and returns how many
// nodes were changed. With an empty input name the node's "value" input is used, or
// its only literal input.
func (p *Prompt) SetInputByTitle(title, input string, value any) (int, error) {
	ids := p.NodesWithTitle(title)
	if len(ids) == 0 {
		return 0, fmt.Errorf("no node titled %q", title)
	}
	for _, id := range ids {
		n := p.Nodes[id]
		name := input
		if name == "" {
			name = n.defaultInput()
		}
		if name == "" {
			return 0, fmt.Errorf("node %s (%q) has no settable input", id, title)
		}
		if n.Inputs == nil {
			n.Inputs = make(map[string]interface{})
		}
		n.Inputs[name] = value
		p.Nodes[id] = n
	}
	return len(ids), nil
}

func (n PromptNode) defaultInput() string {
	if _, ok := n.Inputs["value"]; ok {
		return "value"
	}
	var literal []string
	for k, v := range n.Inputs {
		if _, isLink := v.([]interface{}); !isLink {
			literal = append(literal, k)
		}
	}
	if len(literal) == 1 {
		return literal[0]
	}
	return ""
}
