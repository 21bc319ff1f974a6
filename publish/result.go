package publish

import (
	"github.com/richinsley/comfy2ayon/errdefs"
)

// Record is what one publish call produced.
type Record struct {
	ProductID         string   `json:"product_id"`
	VersionID         string   `json:"version_id"`
	RepresentationIDs []string `json:"representation_ids"`
	Paths             []string `json:"paths"`
	Version           int      `json:"version"`
}

func (r *Record) empty() bool {
	return r == nil || (r.ProductID == "" && r.VersionID == "" && len(r.Paths) == 0)
}

// Result is either Success or Failure.
type Result interface {
	OK() bool
	isResult()
}

type Success struct {
	Record *Record
}

// Failure reports a publish that stopped early. Partial holds whatever was created or
// copied before the error; nothing is rolled back.
type Failure struct {
	Kind    errdefs.Kind
	Err     error
	Partial *Record
}

func (Success) OK() bool { return true }
func (Failure) OK() bool { return false }

func (Success) isResult() {}
func (Failure) isResult() {}

func (f Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}
