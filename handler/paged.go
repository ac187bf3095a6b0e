package handler

import (
	"sort"

	"github.com/riftkeep/gamecore/validate"
)

// PagedListHandler is embedded by any handler that returns a sorted,
// sliced page of some source sequence. It carries the four synthetic
// input fields at fixed negative indices so they sort ahead of whatever
// subclass-defined fields come after them; the paired output field
// (typically named List, index -1) is declared on the embedding struct
// because its element type varies per handler.
type PagedListHandler struct {
	Skip             int32  `param:"-4,in"`
	Take             int32  `param:"-3,in"`
	OrderByField     string `param:"-2,in"`
	OrderByAscending bool   `param:"-1,in"`
}

// Less compares two records of TRecord by field name. The map is
// authored once per handler, at registration time, in place of the
// reference implementation's runtime field-name reflection: attempting to
// sort by an unregistered name is a validation failure, not a panic.
type Less[TRecord any] map[string]func(a, b TRecord) bool

// Paginate sorts source using the comparator registered under
// h.OrderByField (stable, so ties keep source order — this module's
// answer to the reference query engine's engine-defined but per-call
// stable tie-breaking), in descending order when OrderByAscending is
// false, and
// slices out [Skip, Skip+Take). It never mutates source.
func Paginate[TRecord any](h *PagedListHandler, source []TRecord, cmp Less[TRecord]) ([]TRecord, validate.Code) {
	less, ok := cmp[h.OrderByField]
	if !ok {
		return nil, validate.Code(InvalidParameters)
	}

	sorted := make([]TRecord, len(source))
	copy(sorted, source)
	sort.SliceStable(sorted, func(i, j int) bool {
		if h.OrderByAscending {
			return less(sorted[i], sorted[j])
		}
		return less(sorted[j], sorted[i])
	})

	skip := int(h.Skip)
	if skip < 0 {
		skip = 0
	}
	if skip > len(sorted) {
		skip = len(sorted)
	}

	take := int(h.Take)
	end := len(sorted)
	if take >= 0 && skip+take < end {
		end = skip + take
	}

	return sorted[skip:end], validate.Success
}
