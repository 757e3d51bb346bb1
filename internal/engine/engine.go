// Package engine implements the silence decision engine: it consumes one
// classified event per invocation, resolves the silence identity, and applies
// the compare-and-extend policy against the Bosun silence store.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/bosun"
	"github.com/t77yq/scalewatch/internal/config"
	"github.com/t77yq/scalewatch/internal/event"
	"github.com/t77yq/scalewatch/internal/mapping"
	"github.com/t77yq/scalewatch/internal/metrics"
	"github.com/t77yq/scalewatch/internal/retry"
)

// Oracle answers whether an instance currently belongs to an autoscaling
// group. "Not a member" and "could not find out" are distinct answers.
type Oracle interface {
	GroupForInstance(ctx context.Context, instanceID string) (string, bool, error)
}

// Engine holds the per-process collaborators. It keeps no silence state of
// its own; the Bosun backend is the sole source of truth between
// invocations.
type Engine struct {
	logger   *zap.Logger
	bosun    bosun.Bosun
	oracle   Oracle
	mappings *mapping.Mappings

	longDuration  time.Duration
	shortDuration time.Duration

	maxAttempts int
	strategy    retry.Strategy

	// now is swapped out in tests.
	now func() time.Time
}

// New creates a decision engine from the loaded configuration.
func New(cfg *config.Config, b bosun.Bosun, oracle Oracle, logger *zap.Logger) *Engine {
	return &Engine{
		logger:        logger.Named("engine"),
		bosun:         b,
		oracle:        oracle,
		mappings:      cfg.Mappings(),
		longDuration:  cfg.ASG.ScaledownSilenceDuration,
		shortDuration: cfg.EC2.ScaledownSilenceDuration,
		maxAttempts:   cfg.Retry.MaxAttempts,
		strategy: &retry.ExponentialBackoff{
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
		},
		now: time.Now,
	}
}

// Handle processes one raw notification end-to-end. Ignorable input returns
// nil; transient collaborator failures surface as transient errors after the
// retry budget is exhausted so the invoking platform can redeliver.
func (e *Engine) Handle(ctx context.Context, raw []byte) error {
	invocationID := uuid.NewString()
	logger := e.logger.With(zap.String("invocation_id", invocationID))

	e.emitDatum(ctx, logger, bosun.NewDatum(metrics.InvocationCount, "1", nil))

	err := e.handle(ctx, logger, raw, invocationID)

	result := "0"
	if err != nil {
		result = "1"
	}
	e.emitDatum(ctx, logger, bosun.NewDatum(metrics.InvocationResult, result, nil))

	return err
}

func (e *Engine) handle(ctx context.Context, logger *zap.Logger, raw []byte, invocationID string) error {
	ev, err := event.Classify(raw)
	if err != nil {
		// Malformed deliveries must not fail the handler; a transport
		// retry would only replay the same garbage.
		logger.Warn("Ignoring malformed notification", zap.Error(err))
		return nil
	}

	switch ev := ev.(type) {
	case event.PingEvent:
		logger.Info("Received ping", zap.String("message", ev.Message))
		return nil
	case event.UnrecognizedEvent:
		logger.Info("Ignoring unrecognized notification", zap.String("reason", ev.Reason))
		return nil
	case event.LifecycleEvent:
		return e.handleLifecycle(ctx, logger, ev)
	case event.ScaleDownEvent:
		return e.handleScaleDown(ctx, logger, ev, invocationID)
	case event.StateChangeEvent:
		return e.handleStateChange(ctx, logger, ev, invocationID)
	}
	return fmt.Errorf("unhandled event variant %T", ev)
}

// handleLifecycle feeds the scaling metric for launches and failed
// terminations; these transitions never install a silence.
func (e *Engine) handleLifecycle(ctx context.Context, logger *zap.Logger, ev event.LifecycleEvent) error {
	logger.Info("Received lifecycle event",
		zap.String("group", ev.GroupName),
		zap.String("detail_type", ev.DetailType))

	e.emitScalingDatum(ctx, logger, ev.GroupName, ev.Delta)
	return nil
}

// handleScaleDown is the authoritative path: the group itself reported the
// termination, so the long silence applies.
func (e *Engine) handleScaleDown(ctx context.Context, logger *zap.Logger, ev event.ScaleDownEvent, invocationID string) error {
	logger.Info("Received scale-down event",
		zap.String("group", ev.GroupName),
		zap.String("instance_id", ev.InstanceID))

	e.emitScalingDatum(ctx, logger, ev.GroupName, -1)

	m := e.mappings.Map(ev.GroupName)
	if m == nil {
		logger.Info("Group matches no mapping rule, skipping silence",
			zap.String("group", ev.GroupName))
		return nil
	}

	reason := fmt.Sprintf("Host terminated by ASG %s (invocation %s)", ev.GroupName, invocationID)
	return e.extendSilence(ctx, logger, m, ev.InstanceID, e.longDuration, reason)
}

// handleStateChange is the early path: the instance is shutting down, but
// only membership in a managed group makes that a scale-down. The short
// provisional silence applies.
func (e *Engine) handleStateChange(ctx context.Context, logger *zap.Logger, ev event.StateChangeEvent, invocationID string) error {
	logger.Info("Received state-change event",
		zap.String("instance_id", ev.InstanceID),
		zap.String("state", string(ev.State)))

	var (
		group  string
		member bool
	)
	err := retry.Do(ctx, e.maxAttempts, e.strategy, func(ctx context.Context) error {
		var err error
		group, member, err = e.oracle.GroupForInstance(ctx, ev.InstanceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("membership lookup for %s failed: %w", ev.InstanceID, err)
	}
	if !member {
		logger.Info("Instance has no autoscaling group, skipping silence",
			zap.String("instance_id", ev.InstanceID))
		return nil
	}

	m := e.mappings.Map(group)
	if m == nil {
		logger.Info("Group matches no mapping rule, skipping silence",
			zap.String("group", group))
		return nil
	}

	reason := fmt.Sprintf("Instance %s entered state %s in ASG %s (invocation %s)",
		ev.InstanceID, ev.State, group, invocationID)
	return e.extendSilence(ctx, logger, m, ev.InstanceID, e.shortDuration, reason)
}

// extendSilence applies the compare-and-extend write for one identity. The
// silence write is the only mutation an invocation performs.
func (e *Engine) extendSilence(ctx context.Context, logger *zap.Logger, m *mapping.Mapping, instanceID string, duration time.Duration, reason string) error {
	now := e.now()
	candidate := bosun.Window{Start: now, End: now.Add(duration)}
	if !candidate.End.After(candidate.Start) {
		return fmt.Errorf("%w: duration %s for host prefix %s", ErrInvalidWindow, duration, m.HostPrefix)
	}

	// The trailing wildcard covers per-interface host names derived from
	// the instance id.
	identity := bosun.Tags{"host": m.HostPrefix + instanceID + "*"}

	var existing *bosun.Window
	err := retry.Do(ctx, e.maxAttempts, e.strategy, func(ctx context.Context) error {
		var err error
		existing, err = e.bosun.ActiveSilence(ctx, identity)
		return err
	})
	if err != nil {
		return fmt.Errorf("silence query for %s failed: %w", bosun.TagString(identity), err)
	}

	write := decide(existing, candidate)
	if write == nil {
		logger.Info("Existing silence already covers candidate window, skipping write",
			zap.String("tags", bosun.TagString(identity)),
			zap.Time("existing_end", existing.End),
			zap.Time("candidate_end", candidate.End))
		return nil
	}

	silence := &bosun.Silence{
		Start:   write.Start,
		End:     write.End,
		Tags:    identity,
		User:    "scalewatch",
		Message: reason,
	}
	err = retry.Do(ctx, e.maxAttempts, e.strategy, func(ctx context.Context) error {
		return e.bosun.SetSilence(ctx, silence)
	})
	if err != nil {
		return fmt.Errorf("silence write for %s failed: %w", bosun.TagString(identity), err)
	}

	logger.Info("Silence window extended",
		zap.String("tags", bosun.TagString(identity)),
		zap.String("asg_tag", m.TagName),
		zap.Time("end", write.End))
	return nil
}

// emitScalingDatum records a scaling event on the ASG metric, tagged with
// the mapped tag name or "unmapped".
func (e *Engine) emitScalingDatum(ctx context.Context, logger *zap.Logger, groupName string, delta int) {
	tagName := "unmapped"
	if m := e.mappings.Map(groupName); m != nil {
		tagName = m.TagName
	}

	datum := bosun.NewDatum(metrics.ASGUpDown, strconv.Itoa(delta), bosun.Tags{"asg": tagName})
	e.emitDatum(ctx, logger, datum)
}

// emitDatum sends a metric datum best effort. Metric delivery failures are
// logged but never fail the invocation; the silence write is the only
// operation whose failure matters for redelivery.
func (e *Engine) emitDatum(ctx context.Context, logger *zap.Logger, datum *bosun.Datum) {
	if err := e.bosun.EmitDatum(ctx, datum); err != nil {
		logger.Warn("Failed to emit datum",
			zap.String("metric", datum.Metric),
			zap.Error(err))
	}
}
