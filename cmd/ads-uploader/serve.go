package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/trigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run uploads for messages on a Pub/Sub subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Trigger.SubscriptionURL == "" {
			return errors.New("trigger.subscription_url (PUBSUB_SUBSCRIPTION) is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Metrics.Enabled {
			srv := metrics.Get().NewServer(cfg.Metrics.Address)
			go func() {
				log.Printf("[main] metrics listening on %s", cfg.Metrics.Address)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("[main] metrics server: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Trigger.ShutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		sub, err := trigger.OpenSubscription(ctx, cfg.Trigger.SubscriptionURL)
		if err != nil {
			return err
		}
		l := trigger.NewListener(sub, a.svc, trigger.Config{
			DefaultUploadType:     cfg.Service.DefaultUploadType,
			MaxConcurrentMessages: cfg.Trigger.MaxConcurrentMessages,
		})

		runErr := l.Run(ctx)
		log.Printf("[shutdown] listener stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Trigger.ShutdownTimeout)
		defer cancel()
		if err := l.Shutdown(shutdownCtx); err != nil {
			log.Printf("[shutdown] subscription: %v", err)
		}

		if runErr != nil {
			return fmt.Errorf("listener: %w", runErr)
		}
		log.Println("[main] ads uploader stopped cleanly")
		return nil
	},
}
