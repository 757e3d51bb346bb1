package event

import (
	"encoding/json"
	"time"
)

// Envelope is the raw EventBridge notification as delivered by the
// triggering platform. Detail is kept opaque until the envelope has been
// routed by source and detail-type.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Account    string          `json:"account"`
	Time       time.Time       `json:"time"`
	Region     string          `json:"region"`
	Resources  []string        `json:"resources"`
	Detail     json.RawMessage `json:"detail"`

	// Ping is set for the liveness probe payload {"ping": "..."}, which
	// carries none of the EventBridge fields.
	Ping string `json:"ping"`
}

const (
	SourceAutoScaling = "aws.autoscaling"
	SourceEC2         = "aws.ec2"

	DetailTypeStateChange           = "EC2 Instance State-change Notification"
	DetailTypeLaunchSuccessful      = "EC2 Instance Launch Successful"
	DetailTypeLaunchUnsuccessful    = "EC2 Instance Launch Unsuccessful"
	DetailTypeTerminateSuccessful   = "EC2 Instance Terminate Successful"
	DetailTypeTerminateUnsuccessful = "EC2 Instance Terminate Unsuccessful"
)

// InstanceState is the provider-reported EC2 instance state.
type InstanceState string

const (
	StatePending      InstanceState = "pending"
	StateRunning      InstanceState = "running"
	StateShuttingDown InstanceState = "shutting-down"
	StateStopping     InstanceState = "stopping"
	StateStopped      InstanceState = "stopped"
	StateTerminated   InstanceState = "terminated"
)

// ShutdownPath reports whether the state denotes an instance on its way out.
// Only these states may trigger a provisional silence.
func (s InstanceState) ShutdownPath() bool {
	return s == StateShuttingDown || s == StateTerminated
}

// Event is the closed set of classified inbound notifications.
type Event interface {
	isEvent()
}

// ScaleDownEvent is the authoritative signal: the autoscaling group itself
// reports that it terminated the instance.
type ScaleDownEvent struct {
	GroupName  string
	InstanceID string
}

// LifecycleEvent covers the remaining group lifecycle transitions (launches
// and failed terminations). They feed the scaling metric but never a silence.
type LifecycleEvent struct {
	GroupName  string
	DetailType string
	// Delta is the scaling metric contribution: +1 for a successful
	// launch, 0 otherwise.
	Delta int
}

// StateChangeEvent is the early signal: the instance entered a shutdown-path
// state, but nothing proves the removal is group-initiated.
type StateChangeEvent struct {
	InstanceID string
	State      InstanceState
}

// PingEvent is a liveness probe; handled as a successful no-op.
type PingEvent struct {
	Message string
}

// UnrecognizedEvent is any delivery this system does not act on: unknown
// source or detail-type, missing required fields, or a non-actionable state.
// It is not an error; the invocation succeeds with no side effect.
type UnrecognizedEvent struct {
	Reason string
}

func (ScaleDownEvent) isEvent()    {}
func (LifecycleEvent) isEvent()    {}
func (StateChangeEvent) isEvent()  {}
func (PingEvent) isEvent()         {}
func (UnrecognizedEvent) isEvent() {}

type asgDetail struct {
	AutoScalingGroupName string `json:"AutoScalingGroupName"`
	EC2InstanceID        string `json:"EC2InstanceId"`
}

type ec2Detail struct {
	InstanceID string        `json:"instance-id"`
	State      InstanceState `json:"state"`
}

// Classify parses a raw notification into one of the event variants.
// Malformed JSON is the only error; every well-formed but irrelevant
// delivery classifies as UnrecognizedEvent.
func Classify(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return classify(&env), nil
}

func classify(env *Envelope) Event {
	if env.Ping != "" {
		return PingEvent{Message: env.Ping}
	}

	switch env.Source {
	case SourceAutoScaling:
		return classifyAutoScaling(env)
	case SourceEC2:
		return classifyEC2(env)
	}
	return UnrecognizedEvent{Reason: "unknown source " + env.Source}
}

func classifyAutoScaling(env *Envelope) Event {
	var detail asgDetail
	if err := json.Unmarshal(env.Detail, &detail); err != nil || detail.AutoScalingGroupName == "" {
		return UnrecognizedEvent{Reason: "autoscaling event without AutoScalingGroupName"}
	}

	switch env.DetailType {
	case DetailTypeTerminateSuccessful:
		if detail.EC2InstanceID == "" {
			return UnrecognizedEvent{Reason: "terminate successful event without EC2InstanceId"}
		}
		return ScaleDownEvent{
			GroupName:  detail.AutoScalingGroupName,
			InstanceID: detail.EC2InstanceID,
		}
	case DetailTypeLaunchSuccessful:
		return LifecycleEvent{GroupName: detail.AutoScalingGroupName, DetailType: env.DetailType, Delta: 1}
	case DetailTypeLaunchUnsuccessful, DetailTypeTerminateUnsuccessful:
		return LifecycleEvent{GroupName: detail.AutoScalingGroupName, DetailType: env.DetailType, Delta: 0}
	}
	return UnrecognizedEvent{Reason: "unknown autoscaling detail-type " + env.DetailType}
}

func classifyEC2(env *Envelope) Event {
	if env.DetailType != DetailTypeStateChange {
		return UnrecognizedEvent{Reason: "unknown ec2 detail-type " + env.DetailType}
	}

	var detail ec2Detail
	if err := json.Unmarshal(env.Detail, &detail); err != nil || detail.InstanceID == "" || detail.State == "" {
		return UnrecognizedEvent{Reason: "state-change event without instance-id or state"}
	}
	if !detail.State.ShutdownPath() {
		return UnrecognizedEvent{Reason: "state " + string(detail.State) + " is not a shutdown path"}
	}
	return StateChangeEvent{InstanceID: detail.InstanceID, State: detail.State}
}
