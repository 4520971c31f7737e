package main

import (
	"context"
	"fmt"
	"log"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/ads"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/archive"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/config"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/history"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/service"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/source"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/targets"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// app holds the wired service and everything that needs closing.
type app struct {
	svc     *service.Service
	closers []func() error
}

func newRegistry(cfg config.Config) (*targets.Registry, error) {
	reg, err := targets.NewRegistry(targets.Builtin(), cfg.UploadTypes, cfg.Service.EnabledTypes)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}

	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	client, err := ads.NewClient(ctx, cfg.Ads)
	if err != nil {
		return nil, fmt.Errorf("create ads client: %w", err)
	}

	fetcher, err := source.NewBlobFetcher(cfg.Source.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	a.closers = append(a.closers, fetcher.Close)

	var opts []uploader.Option

	if cfg.Archive.BucketURL != "" {
		store, err := archive.Open(ctx, cfg.Archive.BucketURL, cfg.Archive.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, uploader.WithArchiver(store))
		log.Printf("[main] archiving failed batches to %s", cfg.Archive.BucketURL)
	}

	rec, err := history.New(ctx, history.Config{PostgresDSN: cfg.History.PostgresDSN})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, rec.Close)
	opts = append(opts, uploader.WithRecorder(rec))

	a.svc = service.New(reg, client, source.NewResolver(fetcher), opts...)
	return a, nil
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[main] close: %v", err)
		}
	}
}
