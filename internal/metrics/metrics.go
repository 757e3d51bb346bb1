// Package metrics holds the Bosun metric names emitted by this system and
// their metadata registration.
package metrics

import (
	"context"

	"github.com/t77yq/scalewatch/internal/bosun"
)

const (
	// ASGUpDown tracks scaling events: +1 up scaling, -1 down scaling.
	ASGUpDown = "aws.ec2.asg.scaling.event"
	// InvocationCount counts handled envelopes.
	InvocationCount = "aws.lambda.function.invocation.count"
	// InvocationResult records the handling result: 0 success, >0 failure.
	InvocationResult = "aws.lambda.function.invocation.result"

	// WorkerHeartbeat is the worker-mode liveness beacon.
	WorkerHeartbeat = "scalewatch.worker.heartbeat"
	// WorkerCPUPercent is the worker host CPU usage.
	WorkerCPUPercent = "scalewatch.worker.cpu.percent"
	// WorkerMemPercent is the worker host memory usage.
	WorkerMemPercent = "scalewatch.worker.mem.percent"
)

var all = []bosun.Metadata{
	{
		Metric:      ASGUpDown,
		Rate:        "rate",
		Unit:        "Scaling",
		Description: "ASG up and down scaling event [-1 = down scaling, +1 = up scaling]",
	},
	{
		Metric:      InvocationCount,
		Rate:        "rate",
		Unit:        "Invocations",
		Description: "Event handler invocation counter",
	},
	{
		Metric:      InvocationResult,
		Rate:        "gauge",
		Unit:        "Result",
		Description: "Event handler invocation result code [0 = success, >0 = failure]",
	},
	{
		Metric:      WorkerHeartbeat,
		Rate:        "gauge",
		Unit:        "Beats",
		Description: "Worker liveness heartbeat",
	},
	{
		Metric:      WorkerCPUPercent,
		Rate:        "gauge",
		Unit:        "Percent",
		Description: "Worker host CPU usage",
	},
	{
		Metric:      WorkerMemPercent,
		Rate:        "gauge",
		Unit:        "Percent",
		Description: "Worker host memory usage",
	},
}

// Register sends metadata for every metric this system emits. Called once
// per process, not per invocation.
func Register(ctx context.Context, b bosun.Bosun) error {
	for i := range all {
		if err := b.EmitMetadata(ctx, &all[i]); err != nil {
			return err
		}
	}
	return nil
}
