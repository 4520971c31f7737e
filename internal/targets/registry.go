// Package targets holds the table of supported upload types and builds the
// uploader variant for each of them.
package targets

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/ads"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// ErrUnknownUploadType is returned for a code with no registry entry.
var ErrUnknownUploadType = errors.New("unknown upload type")

// ErrDisabledUploadType is returned for a known code that is not enabled.
var ErrDisabledUploadType = errors.New("upload type is not enabled")

// Pattern is how an upload type talks to the API.
type Pattern string

const (
	// PatternSimple sends each batch in one independent request.
	PatternSimple Pattern = "simple"
	// PatternJob creates a list and a job first, adds batches as operations
	// and runs the job at the end.
	PatternJob Pattern = "job"
)

// Upload type codes.
const (
	CodeConversionAdjustments = "ACA"
	CodeOfflineUserData       = "AOUD"
	CodeCustomerMatch         = "ACM"
)

// Definition is one row of the registry.
type Definition struct {
	Code             string
	APIName          string
	DefaultOnStorage bool
	Pattern          Pattern
	Defaults         uploader.UploadConfig

	build func(api API) uploader.Variant
}

// Variant builds the uploader variant for this upload type.
func (d Definition) Variant(api API) uploader.Variant {
	return d.build(api)
}

// Builtin returns the built-in upload types.
func Builtin() []Definition {
	return []Definition{
		{
			Code:             CodeConversionAdjustments,
			APIName:          "google_ads_conversion_adjustments",
			DefaultOnStorage: true,
			Pattern:          PatternSimple,
			Defaults:         uploader.UploadConfig{RecordsPerRequest: 2000, NumberOfThreads: 1, QPS: 10},
			build: func(api API) uploader.Variant {
				return ConversionAdjustments(CodeConversionAdjustments, api)
			},
		},
		{
			Code:             CodeOfflineUserData,
			APIName:          "google_ads_offline_user_data",
			DefaultOnStorage: true,
			Pattern:          PatternJob,
			Defaults:         uploader.UploadConfig{RecordsPerRequest: 10000, NumberOfThreads: 1, QPS: 1},
			build: func(api API) uploader.Variant {
				return OfflineUserData(CodeOfflineUserData, api, "")
			},
		},
		{
			Code:             CodeCustomerMatch,
			APIName:          "google_ads_customer_match",
			DefaultOnStorage: true,
			Pattern:          PatternJob,
			Defaults:         uploader.UploadConfig{RecordsPerRequest: 10000, NumberOfThreads: 1, QPS: 1},
			build: func(api API) uploader.Variant {
				return OfflineUserData(CodeCustomerMatch, api, ads.JobTypeCustomerMatch)
			},
		},
	}
}

// Registry resolves upload type codes to their definitions.
type Registry struct {
	defs    []Definition
	byCode  map[string]int
	enabled map[string]bool
}

// NewRegistry builds a registry from defs, applying per-type default
// overrides. An empty enabled list enables every type.
func NewRegistry(defs []Definition, overrides map[string]uploader.UploadConfig, enabled []string) (*Registry, error) {
	if len(defs) == 0 {
		return nil, errors.New("at least one upload type must be registered")
	}

	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Code < sorted[j].Code
	})

	byCode := make(map[string]int, len(sorted))
	for i, d := range sorted {
		if d.build == nil {
			return nil, fmt.Errorf("upload type %q has no variant", d.Code)
		}
		if _, dup := byCode[d.Code]; dup {
			return nil, fmt.Errorf("upload type %q registered twice", d.Code)
		}
		byCode[d.Code] = i
	}

	for code, o := range overrides {
		i, ok := byCode[strings.ToUpper(code)]
		if !ok {
			return nil, fmt.Errorf("%w: override for %q", ErrUnknownUploadType, code)
		}
		merged := sorted[i].Defaults.Merge(o)
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("defaults for %s: %w", sorted[i].Code, err)
		}
		sorted[i].Defaults = merged
	}

	active := make(map[string]bool)
	if len(enabled) == 0 {
		for _, d := range sorted {
			active[d.Code] = true
		}
	} else {
		for _, code := range enabled {
			code = strings.ToUpper(strings.TrimSpace(code))
			if _, ok := byCode[code]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownUploadType, code)
			}
			active[code] = true
		}
	}

	return &Registry{defs: sorted, byCode: byCode, enabled: active}, nil
}

// Lookup returns the definition of an enabled upload type. Codes are case
// insensitive.
func (r *Registry) Lookup(code string) (Definition, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	i, ok := r.byCode[code]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownUploadType, code)
	}
	if !r.enabled[code] {
		return Definition{}, fmt.Errorf("%w: %q", ErrDisabledUploadType, code)
	}
	return r.defs[i], nil
}

// Enabled returns the enabled definitions ordered by code.
func (r *Registry) Enabled() []Definition {
	var out []Definition
	for _, d := range r.defs {
		if r.enabled[d.Code] {
			out = append(out, d)
		}
	}
	return out
}

// All returns every registered definition ordered by code.
func (r *Registry) All() []Definition {
	return r.defs
}

// IsEnabled reports whether code is enabled.
func (r *Registry) IsEnabled(code string) bool {
	return r.enabled[strings.ToUpper(code)]
}
