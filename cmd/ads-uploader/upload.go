package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/service"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

var errUploadFailed = errors.New("upload finished with errors")

var uploadFlags struct {
	uploadType        string
	file              string
	message           string
	correlationID     string
	recordsPerRequest int
	threads           int
	qps               float64
	target            map[string]string
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Run a single upload and print the result as JSON",
	Long: `Run a single upload. Records come from --file (use - for stdin), or
--message, which may be inline records or a {"bucket":..,"name":..} reference.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := uploadFlags
		if (f.file == "") == (f.message == "") {
			return errors.New("exactly one of --file or --message is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := service.Request{
			UploadType:    f.uploadType,
			CorrelationID: f.correlationID,
			Message:       f.message,
			Config: uploader.UploadConfig{
				RecordsPerRequest: f.recordsPerRequest,
				NumberOfThreads:   f.threads,
				QPS:               f.qps,
				Target:            f.target,
			},
		}
		if req.UploadType == "" {
			req.UploadType = cfg.Service.DefaultUploadType
		}
		if f.file != "" {
			raw, err := readInput(cmd.InOrStdin(), f.file)
			if err != nil {
				return err
			}
			req.Records = uploader.SplitRecords(string(raw))
			if req.Records == nil {
				req.Records = []string{}
			}
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.svc.Upload(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		if !res.Result {
			return errUploadFailed
		}
		return nil
	},
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	fl := uploadCmd.Flags()
	fl.StringVarP(&uploadFlags.uploadType, "type", "t", "", "upload type code (default from config)")
	fl.StringVarP(&uploadFlags.file, "file", "f", "", "newline-delimited records file, - for stdin")
	fl.StringVarP(&uploadFlags.message, "message", "m", "", "inline records or a bucket object reference")
	fl.StringVar(&uploadFlags.correlationID, "correlation-id", "", "correlation id (generated when empty)")
	fl.IntVar(&uploadFlags.recordsPerRequest, "records-per-request", 0, "override records per request")
	fl.IntVar(&uploadFlags.threads, "threads", 0, "override number of concurrent sends")
	fl.Float64Var(&uploadFlags.qps, "qps", 0, "override send starts per second, -1 for unlimited")
	fl.StringToStringVar(&uploadFlags.target, "target", nil, "target identifiers, e.g. customer_id=123,job_type=CUSTOMER_MATCH_USER_LIST")
}
