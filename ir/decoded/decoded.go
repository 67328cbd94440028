// Package decoded applies stream filters to objects fetched from a registry.
package decoded

import (
	"github.com/wudi/pdfgraph/ir/raw"
)

// Stream is a stream object with its filters applied.
type Stream struct {
	Ref     raw.ObjectRef
	Dict    *raw.DictObj
	Data    []byte
	Filters []string
	// Err is set when the filters could not be applied; Data then holds
	// the undecoded payload.
	Err error
}

// Fetcher hands out objects by reference. *xref.Table implements it.
type Fetcher interface {
	Fetch(ref raw.ObjectRef) (raw.Object, error)
}
