package targets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/ads"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/logging"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// ConversionAPI uploads conversion adjustments.
type ConversionAPI interface {
	UploadConversionAdjustments(ctx context.Context, target ads.Target, adjustments []json.RawMessage) error
}

// UserDataAPI drives offline user data jobs.
type UserDataAPI interface {
	CreateOrGetUserList(ctx context.Context, target ads.Target) (string, error)
	CreateJob(ctx context.Context, target ads.Target) (string, error)
	AddOperations(ctx context.Context, target ads.Target, job string, records []string) error
	RunJob(ctx context.Context, target ads.Target, job string) error
}

// API is everything the built-in upload types need. *ads.Client implements it.
type API interface {
	ConversionAPI
	UserDataAPI
}

var _ API = (*ads.Client)(nil)

// ConversionAdjustments is the simple pattern: every batch is one
// uploadConversionAdjustments request and there are no prerequisite or post
// steps.
func ConversionAdjustments(name string, api ConversionAPI) uploader.Variant {
	return uploader.Variant{
		Name: name,
		Prepare: func(ctx context.Context, cfg uploader.UploadConfig) (uploader.Plan, error) {
			target, err := ads.ParseTarget(cfg.Target)
			if err != nil {
				return uploader.Plan{}, err
			}
			action := target.ConversionActionResource()

			send := func(ctx context.Context, batch uploader.RecordBatch) error {
				adjustments, err := decodeAdjustments(batch.Records, action)
				if err != nil {
					return err
				}
				return api.UploadConversionAdjustments(ctx, target, adjustments)
			}
			return uploader.Plan{Send: send}, nil
		},
	}
}

// decodeAdjustments decodes records into ConversionAdjustment objects, filling
// conversionAction when the record has none.
func decodeAdjustments(records []string, action string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(records))
	for i, rec := range records {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(rec), &obj); err != nil {
			return nil, fmt.Errorf("record %d: invalid conversion adjustment: %w", i, err)
		}
		if _, ok := obj["conversionAction"]; !ok && action != "" {
			v, _ := json.Marshal(action)
			obj["conversionAction"] = v
			b, err := json.Marshal(obj)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			out = append(out, b)
			continue
		}
		out = append(out, json.RawMessage(rec))
	}
	return out, nil
}

// OfflineUserData is the job pattern. Prepare resolves the user list (for
// customer match jobs) and creates the job; every batch adds operations to
// it and Finish runs it. A non-empty jobType overrides the target's.
func OfflineUserData(name string, api UserDataAPI, jobType string) uploader.Variant {
	return uploader.Variant{
		Name: name,
		Prepare: func(ctx context.Context, cfg uploader.UploadConfig) (uploader.Plan, error) {
			if jobType != "" {
				cfg = cfg.WithTarget(ads.KeyJobType, jobType)
			}
			target, err := ads.ParseTarget(cfg.Target)
			if err != nil {
				return uploader.Plan{}, err
			}
			if target.JobType == "" {
				return uploader.Plan{}, ads.ErrMissingJobType
			}
			log := logging.FromContext(ctx).With("upload_type", name, "job_type", target.JobType)

			if target.JobType == ads.JobTypeCustomerMatch {
				list, err := api.CreateOrGetUserList(ctx, target)
				if err != nil {
					return uploader.Plan{}, fmt.Errorf("user list: %w", err)
				}
				target.ListID = list
				log = log.With("user_list", list)
			}

			job, err := api.CreateJob(ctx, target)
			if err != nil {
				return uploader.Plan{}, fmt.Errorf("create job: %w", err)
			}
			log.Info("created offline user data job", "job", job)

			return uploader.Plan{
				Send: func(ctx context.Context, batch uploader.RecordBatch) error {
					return api.AddOperations(ctx, target, job, batch.Records)
				},
				Finish: func(ctx context.Context) error {
					if err := api.RunJob(ctx, target, job); err != nil {
						return err
					}
					log.Info("offline user data job started", "job", job)
					return nil
				},
			}, nil
		},
	}
}
