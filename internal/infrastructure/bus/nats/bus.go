package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/infrastructure/resilience"
)

const (
	jobSubject       = "angles.jobs"
	jobQueueGroup    = "angle-workers"
	updateSubjectFmt = "angles.updated.%s"
)

// Bus carries classify jobs to the worker pool and per-document change
// notifications to open review sessions.
type Bus struct {
	conn     *nats.Conn
	executor *resilience.Executor
	log      *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string) (*Bus, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	log := options.Logger
	if log == nil {
		log = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("angle-review"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		executor: options.ResilienceExecutor,
		log:      log,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishClassifyJob enqueues one classification batch for the worker pool.
func (b *Bus) PublishClassifyJob(ctx context.Context, job domain.ClassifyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal classify job: %w", err)
	}
	if err := b.publish(ctx, "nats.publish_job", jobSubject, payload); err != nil {
		return wrapTemporaryIfNeeded("publish classify job", err)
	}
	return nil
}

// SubscribeClassifyJobs consumes jobs from the shared worker queue group and
// blocks until ctx is done.
func (b *Bus) SubscribeClassifyJobs(ctx context.Context, handler func(context.Context, domain.ClassifyJob) error) error {
	sub, err := b.conn.QueueSubscribe(jobSubject, jobQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		var job domain.ClassifyJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			b.log.Error("classify_job_decode_failed", "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, job); err != nil {
			b.log.Error("classify_job_handler_failed", "job_id", job.JobID, "document_id", job.DocumentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe jobs: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// PublishAngleUpdate broadcasts one accepted write on the document's topic.
func (b *Bus) PublishAngleUpdate(ctx context.Context, update domain.AngleUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal angle update: %w", err)
	}
	subject := fmt.Sprintf(updateSubjectFmt, update.DocumentID)
	if err := b.publish(ctx, "nats.publish_update", subject, payload); err != nil {
		return wrapTemporaryIfNeeded("publish angle update", err)
	}
	return nil
}

// SubscribeAngleUpdates delivers change notifications for one document until
// the returned unsubscribe func is called.
func (b *Bus) SubscribeAngleUpdates(ctx context.Context, documentID string, handler func(domain.AngleUpdate)) (func(), error) {
	subject := fmt.Sprintf(updateSubjectFmt, documentID)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		var update domain.AngleUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			b.log.Error("angle_update_decode_failed", "document_id", documentID, "error", err)
			return
		}
		handler(update)
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrSyncChannel, "subscribe angle updates", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *Bus) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}
	if b.executor != nil {
		return b.executor.Do(ctx, operation, call, classifyNATSError)
	}
	return call(ctx)
}
