// Package worker runs the decision engine as a long-lived consumer of a
// JetStream subject carrying mirrored EventBridge envelopes. Each message is
// one independent invocation; all cross-invocation state stays in Bosun.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/config"
	"github.com/t77yq/scalewatch/internal/retry"
)

const operationTimeout = 30 * time.Second

// Handler processes one raw notification; implemented by engine.Engine.
type Handler interface {
	Handle(ctx context.Context, raw []byte) error
}

// Worker consumes envelopes from JetStream and feeds them to the handler.
type Worker struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	handler Handler
	cfg     config.NATSConfig
	sub     *nats.Subscription
}

// New creates a worker bound to the given JetStream context.
func New(js nats.JetStreamContext, handler Handler, cfg config.NATSConfig, logger *zap.Logger) *Worker {
	return &Worker{
		logger:  logger.Named("worker"),
		js:      js,
		handler: handler,
		cfg:     cfg,
	}
}

// Start ensures the event stream exists and subscribes with a durable
// consumer. Messages are acknowledged manually: transient handler failures
// are Nak'd so JetStream redelivers, everything else is settled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.setupStream(ctx); err != nil {
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	sub, err := w.js.Subscribe(w.cfg.Subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	},
		nats.Durable(w.cfg.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.cfg.Subject, err)
	}
	w.sub = sub

	w.logger.Info("Worker started",
		zap.String("subject", w.cfg.Subject),
		zap.String("durable", w.cfg.Durable))
	return nil
}

// Stop drains the subscription; in-flight messages finish handling and the
// durable consumer survives for the next start, so a restart resumes where
// the previous run left off instead of replaying the stream.
func (w *Worker) Stop() {
	if w.sub != nil {
		if err := w.sub.Drain(); err != nil {
			w.logger.Warn("Failed to drain subscription", zap.Error(err))
		}
	}
	w.logger.Info("Worker stopped")
}

func (w *Worker) setupStream(ctx context.Context) error {
	_, err := w.js.AddStream(&nats.StreamConfig{
		Name:     w.cfg.Stream,
		Subjects: []string{w.cfg.Subject},
		Storage:  nats.FileStorage,
	}, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			w.logger.Info("Stream already exists", zap.String("stream", w.cfg.Stream))
			return nil
		}
		return err
	}

	w.logger.Info("Stream created", zap.String("stream", w.cfg.Stream))
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	handleCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	err := w.handler.Handle(handleCtx, msg.Data)
	switch {
	case err == nil:
		w.ack(msg)
	case retry.IsTransient(err):
		// Let JetStream redeliver; the compare-and-extend rule makes
		// replays safe.
		w.logger.Warn("Transient handling failure, requesting redelivery", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			w.logger.Error("Failed to nak message", zap.Error(nakErr))
		}
	default:
		// Permanent failure: redelivery would fail identically, so
		// settle the message and leave the error for the operator.
		w.logger.Error("Permanent handling failure, terminating delivery", zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message", zap.Error(termErr))
		}
	}
}

func (w *Worker) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		w.logger.Error("Failed to ack message", zap.Error(err))
	}
}
