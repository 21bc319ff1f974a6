package graphapi

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// NodeID is a node id as the frontend writes it: a number for top level nodes, a
// string such as "12:3" for nodes inside a subgraph.
type NodeID string

func (id *NodeID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NodeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = NodeID(n.String())
	return nil
}

func (id NodeID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

type Pos struct {
	X float64
	Y float64
}

func (p *Pos) UnmarshalJSON(b []byte) error {
	x, y, err := decodePair(b)
	if err != nil {
		return err
	}
	p.X, p.Y = x, y
	return nil
}

func (p Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{p.X, p.Y})
}

type Size struct {
	Width  float64
	Height float64
}

func (s *Size) UnmarshalJSON(b []byte) error {
	w, h, err := decodePair(b)
	if err != nil {
		return err
	}
	s.Width, s.Height = w, h
	return nil
}

// it seems the json can have either an array of values, or a dictionary of values
// keyed "0" and "1". When marshaling we always output an array.
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{s.Width, s.Height})
}

func decodePair(b []byte) (float64, float64, error) {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return 0, 0, nil
	}
	var arr []float64
	if err := json.Unmarshal(b, &arr); err == nil {
		var a, c float64
		if len(arr) > 0 {
			a = arr[0]
		}
		if len(arr) > 1 {
			c = arr[1]
		}
		return a, c, nil
	}
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return 0, 0, err
	}
	return m["0"], m["1"], nil
}
