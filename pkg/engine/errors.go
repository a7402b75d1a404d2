// Package engine is the top-level orchestrator: Find, the sole read
// entrypoint, wiring the metadata view, planner, filter walker, executors,
// normaliser, deep-relation resolver and hook pipeline described in spec.md
// §2's control flow, and the error taxonomy from spec.md §7.
package engine

import "github.com/omniqueryio/polyspec/pkg/apperr"

// The error taxonomy itself lives in pkg/apperr, a leaf package every
// component Engine wires (planner, filter, the executors, normalize) also
// depends on directly — keeping it there avoids an import cycle back
// through pkg/engine. These aliases let callers of this package keep
// writing engine.Validation / engine.As / engine.KindInternalError.
type (
	Kind  = apperr.Kind
	Error = apperr.Error
)

const (
	KindValidation         = apperr.KindValidation
	KindResourceNotFound   = apperr.KindResourceNotFound
	KindDialectUnsupported = apperr.KindDialectUnsupported
	KindQueryError         = apperr.KindQueryError
	KindTransportError     = apperr.KindTransportError
	KindInternalError      = apperr.KindInternalError
)

var (
	Validation         = apperr.Validation
	NotFound           = apperr.NotFound
	DialectUnsupported = apperr.DialectUnsupported
	Query              = apperr.Query
	Transport          = apperr.Transport
	Internal           = apperr.Internal
	As                 = apperr.As
)
