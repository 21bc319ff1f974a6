package graphapi

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
)

// allow us to order nodes by their execution order (ordinality)
type ByGraphOrdinal []*GraphNode

func (a ByGraphOrdinal) Len() int           { return len(a) }
func (a ByGraphOrdinal) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByGraphOrdinal) Less(i, j int) bool { return a[i].Order < a[j].Order }

// Graph is a workflow as saved by the ComfyUI frontend. Only the parts needed to find
// nodes and read their widget values are decoded; the document itself is kept so it
// can be written back out unchanged.
type Graph struct {
	Nodes                 []*GraphNode          `json:"nodes"`
	LastNodeID            NodeID                `json:"last_node_id"`
	Version               float32               `json:"version"`
	Extra                 map[string]any        `json:"extra,omitempty"`
	NodesByID             map[NodeID]*GraphNode `json:"-"`
	NodesInExecutionOrder []*GraphNode          `json:"-"`
	raw                   json.RawMessage
}

func (t *Graph) UnmarshalJSON(b []byte) error {
	// Create an alias type to avoid recursive call to UnmarshalJSON
	type Alias Graph

	alias := &Alias{}
	if err := json.Unmarshal(b, alias); err != nil {
		return err
	}

	t.Nodes = alias.Nodes
	t.LastNodeID = alias.LastNodeID
	t.Version = alias.Version
	t.Extra = alias.Extra
	t.NodesByID = make(map[NodeID]*GraphNode, len(t.Nodes))
	t.raw = append(json.RawMessage(nil), b...)

	for _, node := range t.Nodes {
		t.NodesByID[node.ID] = node
		node.Graph = t
	}

	t.NodesInExecutionOrder = make([]*GraphNode, len(t.Nodes))
	copy(t.NodesInExecutionOrder, t.Nodes)
	sort.Stable(ByGraphOrdinal(t.NodesInExecutionOrder))
	return nil
}

// MarshalJSON writes the document the graph was decoded from.
func (t *Graph) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	type Alias Graph
	return json.Marshal((*Alias)(t))
}

// GetNodeById accepts the id as a string, so both numeric ids and the "parent:child"
// ids of nodes inside subgraphs can be looked up.
func (t *Graph) GetNodeById(id string) *GraphNode {
	if val, ok := t.NodesByID[NodeID(strings.TrimSpace(id))]; ok {
		return val
	}
	return nil
}

// GetNodesWithTitle returns the nodes whose title, or display name when the title is
// not set, equals title.
func (t *Graph) GetNodesWithTitle(title string) []*GraphNode {
	retv := make([]*GraphNode, 0)
	for _, n := range t.Nodes {
		if n.DisplayTitle() == title {
			retv = append(retv, n)
		}
	}
	return retv
}

func (t *Graph) GetFirstNodeWithTitle(title string) *GraphNode {
	nodes := t.GetNodesWithTitle(title)
	if len(nodes) != 0 {
		return nodes[0]
	}
	return nil
}

// GetNodesWithType retrieves all nodes in the graph that match a specified type.
func (t *Graph) GetNodesWithType(nodeType string) []*GraphNode {
	retv := make([]*GraphNode, 0)
	for _, n := range t.Nodes {
		if n.Type == nodeType {
			retv = append(retv, n)
		}
	}
	return retv
}

func NewGraphFromJsonReader(r io.Reader) (*Graph, error) {
	fileContent, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	graph := &Graph{}
	if err := json.Unmarshal(fileContent, graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func NewGraphFromJsonFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromJsonReader(freader)
}

func NewGraphFromJsonString(data string) (*Graph, error) {
	return NewGraphFromJsonReader(strings.NewReader(data))
}

// GraphToJSON returns the workflow indented the way the frontend saves it.
func (t *Graph) GraphToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func (t *Graph) SaveGraphToFile(path string) error {
	data, err := t.GraphToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(data), 0o644)
}
