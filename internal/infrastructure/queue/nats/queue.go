package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/resilience"
)

const (
	operationPublishEvent = "nats.publish_sync_event"
	triggerQueueGroup     = "sync-workers"
)

// Queue carries sync triggers into the worker and sync lifecycle events out
// of the orchestrator.
type Queue struct {
	conn           *nats.Conn
	triggerSubject string
	eventsSubject  string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	TriggerSubject       string
	EventsSubject        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Queue, error) {
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("crimson-crm"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		triggerSubject: options.TriggerSubject,
		eventsSubject:  options.EventsSubject,
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishSyncEvent emits a lifecycle event. It is a no-op when no events
// subject is configured.
func (q *Queue) PublishSyncEvent(ctx context.Context, event domain.SyncEvent) error {
	if q.eventsSubject == "" {
		return nil
	}
	payload, err := encodeSyncEvent(event)
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.eventsSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, operationPublishEvent, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// TriggerSync asks a worker to start a sync run.
func (q *Queue) TriggerSync(ctx context.Context, reason string) error {
	if q.triggerSubject == "" {
		return domain.WrapError(domain.ErrConfiguration, "trigger sync", errors.New("trigger subject is not configured"))
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.triggerSubject, []byte(reason)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if err := call(ctx); err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeSyncTriggers runs handler for every trigger message until ctx is
// cancelled. Messages are load-balanced across workers through a queue group.
func (q *Queue) SubscribeSyncTriggers(ctx context.Context, handler func(context.Context, string) error) error {
	if q.triggerSubject == "" {
		return domain.WrapError(domain.ErrConfiguration, "subscribe sync triggers", errors.New("trigger subject is not configured"))
	}
	sub, err := q.conn.QueueSubscribe(q.triggerSubject, triggerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, string(msg.Data)); err != nil {
			q.logger.Warn("sync_trigger_failed", "reason", string(msg.Data), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeSyncEvent(event domain.SyncEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode sync event: %w", err)
	}
	return payload, nil
}
