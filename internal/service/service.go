// Package service resolves an upload request to its upload type, merges the
// request config over the type defaults and runs the orchestrator.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/targets"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// Request is one upload invocation as received from a trigger or the CLI.
type Request struct {
	UploadType    string
	Message       string
	Records       []string
	CorrelationID string
	Config        uploader.UploadConfig // overlay on the type defaults
}

// Service owns one orchestrator per enabled upload type.
type Service struct {
	registry *targets.Registry
	api      targets.API
	resolver uploader.SourceResolver
	opts     []uploader.Option
	log      *slog.Logger

	mu            sync.Mutex
	orchestrators map[string]*uploader.Orchestrator
}

// New creates a service. opts are passed to every orchestrator.
func New(registry *targets.Registry, api targets.API, resolver uploader.SourceResolver, opts ...uploader.Option) *Service {
	return &Service{
		registry:      registry,
		api:           api,
		resolver:      resolver,
		opts:          opts,
		log:           slog.With("component", "service"),
		orchestrators: make(map[string]*uploader.Orchestrator),
	}
}

// Upload runs req. Unknown or disabled upload types and invalid merged
// configs are returned as errors; everything else is in the BatchResult.
func (s *Service) Upload(ctx context.Context, req Request) (uploader.BatchResult, error) {
	def, err := s.registry.Lookup(req.UploadType)
	if err != nil {
		return uploader.BatchResult{}, err
	}

	cfg := def.Defaults.Merge(req.Config)
	o := s.orchestrator(def)

	res, err := o.Upload(ctx, uploader.Input{
		Message:       req.Message,
		Records:       req.Records,
		CorrelationID: req.CorrelationID,
		Config:        cfg,
	})
	if err != nil {
		return uploader.BatchResult{}, fmt.Errorf("%s: %w", def.Code, err)
	}
	return res, nil
}

// Registry returns the registry the service dispatches on.
func (s *Service) Registry() *targets.Registry {
	return s.registry
}

func (s *Service) orchestrator(def targets.Definition) *uploader.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchestrators[def.Code]; ok {
		return o
	}
	var resolver uploader.SourceResolver
	if def.DefaultOnStorage {
		resolver = s.resolver
	}
	o := uploader.New(def.Variant(s.api), resolver, s.opts...)
	s.orchestrators[def.Code] = o
	s.log.Debug("orchestrator created", "upload_type", def.Code, "pattern", string(def.Pattern), "on_storage", def.DefaultOnStorage)
	return o
}
