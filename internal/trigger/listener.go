// Package trigger receives upload requests from a Pub/Sub subscription.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/gcppubsub" // GCP Pub/Sub driver
	_ "gocloud.dev/pubsub/mempubsub" // In-memory driver

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/logging"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/metrics"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/service"
	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

// Message attribute names.
const (
	AttrUploadType    = "upload_type"
	AttrCorrelationID = "correlation_id"
	AttrConfig        = "config"
)

// Handler runs one upload request.
type Handler interface {
	Upload(ctx context.Context, req service.Request) (uploader.BatchResult, error)
}

// Config configures a Listener.
type Config struct {
	DefaultUploadType     string
	MaxConcurrentMessages int
}

// Listener pulls messages and hands each one to the Handler. Every message is
// acked once handled: the result is final and has already been logged,
// archived and recorded.
type Listener struct {
	sub     *pubsub.Subscription
	handler Handler
	cfg     Config
	sem     chan struct{}
	log     *slog.Logger
}

// OpenSubscription opens a subscription URL such as
// gcppubsub://projects/p/subscriptions/s or mem://topic.
func OpenSubscription(ctx context.Context, url string) (*pubsub.Subscription, error) {
	sub, err := pubsub.OpenSubscription(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open subscription %s: %w", url, err)
	}
	return sub, nil
}

// NewListener creates a listener over an opened subscription.
func NewListener(sub *pubsub.Subscription, handler Handler, cfg Config) *Listener {
	if cfg.MaxConcurrentMessages < 1 {
		cfg.MaxConcurrentMessages = 1
	}
	return &Listener{
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrentMessages),
		log:     logging.Component("trigger"),
	}
}

// Run receives until ctx is cancelled, then waits for in-flight messages.
// Handling runs detached from ctx so an upload that started finishes.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Info("listening", "max_concurrent_messages", l.cfg.MaxConcurrentMessages)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		msg, err := l.sub.Receive(ctx)
		if err != nil {
			<-l.sem
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-l.sem }()
			l.handle(context.WithoutCancel(ctx), msg)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, msg *pubsub.Message) {
	defer msg.Ack()

	req, err := l.request(msg)
	if err != nil {
		l.log.Error("dropping malformed message", "error", err, "message_id", msg.LoggableID)
		l.count(req.UploadType, "malformed")
		return
	}

	log := logging.UploadLogger(req.CorrelationID, req.UploadType)
	res, err := l.handler.Upload(logging.WithCorrelationID(ctx, req.CorrelationID), req)
	if err != nil {
		log.Error("upload rejected", "error", err)
		l.count(req.UploadType, "rejected")
		return
	}

	status := "success"
	if !res.Result {
		status = "failed"
	}
	log.Info("message handled", "result", res.Result, "errors", len(res.Errors))
	l.count(req.UploadType, status)
}

// request builds a service request from a message. The body is the message
// handed to source resolution.
func (l *Listener) request(msg *pubsub.Message) (service.Request, error) {
	req := service.Request{
		UploadType:    msg.Metadata[AttrUploadType],
		CorrelationID: msg.Metadata[AttrCorrelationID],
		Message:       string(msg.Body),
	}
	if req.UploadType == "" {
		req.UploadType = l.cfg.DefaultUploadType
	}
	if req.CorrelationID == "" {
		req.CorrelationID = logging.GenerateCorrelationID()
	}
	if raw := msg.Metadata[AttrConfig]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Config); err != nil {
			return req, fmt.Errorf("decode %s attribute: %w", AttrConfig, err)
		}
	}
	return req, nil
}

func (l *Listener) count(uploadType, status string) {
	if m := metrics.Get(); m != nil {
		m.IncMessages(metrics.Labels{UploadType: uploadType, Status: status})
	}
}

// Shutdown flushes and closes the subscription.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.sub.Shutdown(ctx)
}
