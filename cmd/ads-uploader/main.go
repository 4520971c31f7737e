package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/config"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/logging"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
)

// Set at build time with -ldflags.
var (
	Version = "dev"
	GitSHA  = "unknown"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "ads-uploader",
	Short:         "Batch upload records to the Google Ads API",
	Long:          `Upload conversion adjustments and offline user data to Google Ads in rate-limited, concurrent batches.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
		metrics.Init(cfg.Metrics.Namespace)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, uploadCmd, typesCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] Ads Uploader %s (%s)", Version, GitSHA)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("[main] %v", err)
		os.Exit(1)
	}
}
