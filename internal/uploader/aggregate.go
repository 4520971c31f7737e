package uploader

import (
	"cmp"
	"slices"
)

// Aggregate merges per-batch outcomes into one result. Outcomes are reordered
// by batch index first so the errors are deterministic regardless of
// completion order. Zero outcomes is a success.
func Aggregate(outcomes []BatchOutcome) BatchResult {
	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(a, b BatchOutcome) int {
		return cmp.Compare(a.Index, b.Index)
	})

	res := Succeeded()
	for _, o := range sorted {
		if !o.Success {
			res.Result = false
		}
		res.Errors = append(res.Errors, o.Errors...)
	}
	return res
}
