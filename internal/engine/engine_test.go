package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/scalewatch/internal/bosun"
	"github.com/t77yq/scalewatch/internal/config"
	"github.com/t77yq/scalewatch/internal/mapping"
	"github.com/t77yq/scalewatch/internal/metrics"
	"github.com/t77yq/scalewatch/internal/retry"
	"github.com/t77yq/scalewatch/internal/testutil"
)

type fakeOracle struct {
	groups map[string]string
	err    error
	calls  int
}

func (f *fakeOracle) GroupForInstance(_ context.Context, instanceID string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	group, ok := f.groups[instanceID]
	return group, ok, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ASG: config.ASGConfig{
			ScaledownSilenceDuration: 30 * time.Minute,
			Mappings: []mapping.Mapping{
				{Search: "web", TagName: "web-asg", HostPrefix: "web-"},
				{Search: "import", TagName: "import", HostPrefix: "import-"},
			},
		},
		EC2: config.EC2Config{
			ScaledownSilenceDuration: 10 * time.Minute,
		},
		Retry: config.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func newTestEngine(t *testing.T, oracle Oracle) (*Engine, *testutil.BosunRecorder, time.Time) {
	t.Helper()

	recorder := testutil.NewBosunRecorder()
	eng := New(testConfig(), recorder, oracle, zap.NewNop())

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return now }

	return eng, recorder, now
}

func scaleDownEvent(group, instanceID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "12345678-1234-1234-1234-123456789012",
		"source": "aws.autoscaling",
		"detail-type": "EC2 Instance Terminate Successful",
		"time": "2024-06-01T12:00:00Z",
		"detail": {
			"AutoScalingGroupName": %q,
			"EC2InstanceId": %q
		}
	}`, group, instanceID))
}

func stateChangeEvent(instanceID, state string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "7bf73129-1428-4cd3-a780-95db273d1602",
		"source": "aws.ec2",
		"detail-type": "EC2 Instance State-change Notification",
		"time": "2024-06-01T12:00:00Z",
		"detail": {
			"instance-id": %q,
			"state": %q
		}
	}`, instanceID, state))
}

func TestScaleDownInstallsLongSilence(t *testing.T) {
	eng, recorder, now := newTestEngine(t, &fakeOracle{})

	err := eng.Handle(context.Background(), scaleDownEvent("prod-web-asg-1", "i-1234"))
	require.NoError(t, err)

	require.Equal(t, 1, recorder.SilenceCount())
	window, ok := recorder.Windows["host=web-i-1234*"]
	require.True(t, ok, "expected a silence for host=web-i-1234*")
	assert.Equal(t, now, window.Start)
	assert.Equal(t, now.Add(30*time.Minute), window.End)
}

func TestScaleDownEmitsScalingDatum(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	err := eng.Handle(context.Background(), scaleDownEvent("prod-web-asg-1", "i-1234"))
	require.NoError(t, err)

	datums := recorder.DatumsFor(metrics.ASGUpDown)
	require.Len(t, datums, 1)
	assert.Equal(t, "-1", datums[0].Value)
	assert.Equal(t, "web-asg", datums[0].Tags["asg"])
}

func TestLifecycleLaunchEmitsDatumWithoutSilence(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	raw := []byte(`{
		"source": "aws.autoscaling",
		"detail-type": "EC2 Instance Launch Successful",
		"time": "2024-06-01T12:00:00Z",
		"detail": {"AutoScalingGroupName": "prod-web-asg-1", "EC2InstanceId": "i-1"}
	}`)
	require.NoError(t, eng.Handle(context.Background(), raw))

	assert.Equal(t, 0, recorder.SilenceCount())
	datums := recorder.DatumsFor(metrics.ASGUpDown)
	require.Len(t, datums, 1)
	assert.Equal(t, "1", datums[0].Value)
}

func TestLifecycleEventExtendsProvisionalSilence(t *testing.T) {
	// An earlier state-change event installed a short window; the
	// authoritative lifecycle event must extend it, not shorten it.
	eng, recorder, now := newTestEngine(t, &fakeOracle{})

	recorder.Windows["host=web-i-1234*"] = bosun.Window{
		Start:     now.Add(-5 * time.Minute),
		End:       now.Add(5 * time.Minute),
		TagString: "host=web-i-1234*",
	}

	err := eng.Handle(context.Background(), scaleDownEvent("prod-web-asg-1", "i-1234"))
	require.NoError(t, err)

	require.Equal(t, 1, recorder.SilenceCount())
	window := recorder.Windows["host=web-i-1234*"]
	assert.Equal(t, now.Add(30*time.Minute), window.End)
}

func TestLateStateChangeNeverShortensSilence(t *testing.T) {
	// The long authoritative window is already in place; a late or
	// duplicate short event must not write at all.
	oracle := &fakeOracle{groups: map[string]string{"i-1234": "prod-web-asg-1"}}
	eng, recorder, now := newTestEngine(t, oracle)

	recorder.Windows["host=web-i-1234*"] = bosun.Window{
		Start:     now.Add(-1 * time.Minute),
		End:       now.Add(40 * time.Minute),
		TagString: "host=web-i-1234*",
	}

	err := eng.Handle(context.Background(), stateChangeEvent("i-1234", "shutting-down"))
	require.NoError(t, err)

	assert.Equal(t, 0, recorder.SilenceCount())
	window := recorder.Windows["host=web-i-1234*"]
	assert.Equal(t, now.Add(40*time.Minute), window.End)
}

func TestStateChangeInstallsShortSilence(t *testing.T) {
	oracle := &fakeOracle{groups: map[string]string{"i-1234": "prod-web-asg-1"}}
	eng, recorder, now := newTestEngine(t, oracle)

	err := eng.Handle(context.Background(), stateChangeEvent("i-1234", "shutting-down"))
	require.NoError(t, err)

	require.Equal(t, 1, recorder.SilenceCount())
	window, ok := recorder.Windows["host=web-i-1234*"]
	require.True(t, ok)
	assert.Equal(t, now.Add(10*time.Minute), window.End)
}

func TestEndInstantIsMaxOfCandidatesRegardlessOfOrder(t *testing.T) {
	oracle := &fakeOracle{groups: map[string]string{"i-1234": "prod-web-asg-1"}}

	orders := map[string][2][]byte{
		"state change first": {stateChangeEvent("i-1234", "shutting-down"), scaleDownEvent("prod-web-asg-1", "i-1234")},
		"lifecycle first":    {scaleDownEvent("prod-web-asg-1", "i-1234"), stateChangeEvent("i-1234", "shutting-down")},
	}

	for name, events := range orders {
		t.Run(name, func(t *testing.T) {
			eng, recorder, now := newTestEngine(t, oracle)

			require.NoError(t, eng.Handle(context.Background(), events[0]))
			require.NoError(t, eng.Handle(context.Background(), events[1]))

			window := recorder.Windows["host=web-i-1234*"]
			assert.Equal(t, now.Add(30*time.Minute), window.End,
				"final end must be the maximum of both candidates")
		})
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	eng, recorder, now := newTestEngine(t, &fakeOracle{})

	require.NoError(t, eng.Handle(context.Background(), scaleDownEvent("prod-web-asg-1", "i-1234")))
	require.NoError(t, eng.Handle(context.Background(), scaleDownEvent("prod-web-asg-1", "i-1234")))

	// Replace-by-identity: still exactly one stored window, and its end
	// never moved backwards.
	window := recorder.Windows["host=web-i-1234*"]
	assert.Equal(t, now.Add(30*time.Minute), window.End)
	assert.Len(t, recorder.Windows, 1)
}

func TestStateChangeWithoutGroupMembershipIsNoOp(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{groups: map[string]string{}})

	err := eng.Handle(context.Background(), stateChangeEvent("i-5678", "shutting-down"))
	require.NoError(t, err)
	assert.Equal(t, 0, recorder.SilenceCount())
}

func TestUnmappedGroupIsNoOp(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	err := eng.Handle(context.Background(), scaleDownEvent("prod-db-asg-1", "i-1234"))
	require.NoError(t, err)

	assert.Equal(t, 0, recorder.SilenceCount())
	// The scaling metric still records the event, tagged unmapped.
	datums := recorder.DatumsFor(metrics.ASGUpDown)
	require.Len(t, datums, 1)
	assert.Equal(t, "unmapped", datums[0].Tags["asg"])
}

func TestOracleFailureExhaustsRetriesAndFailsInvocation(t *testing.T) {
	oracle := &fakeOracle{err: retry.Transient(errors.New("connection timed out"))}
	eng, recorder, _ := newTestEngine(t, oracle)

	err := eng.Handle(context.Background(), stateChangeEvent("i-9999", "shutting-down"))
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err), "exhausted transient failures must stay transient for redelivery")
	assert.Equal(t, 3, oracle.calls)
	assert.Equal(t, 0, recorder.SilenceCount(), "no partial write on failure")
}

func TestMalformedNotificationSucceedsWithoutSideEffect(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	require.NoError(t, eng.Handle(context.Background(), []byte("not json")))
	assert.Equal(t, 0, recorder.SilenceCount())
}

func TestPingSucceeds(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	require.NoError(t, eng.Handle(context.Background(), []byte(`{"ping": "echo request"}`)))
	assert.Equal(t, 0, recorder.SilenceCount())

	results := recorder.DatumsFor(metrics.InvocationResult)
	require.Len(t, results, 1)
	assert.Equal(t, "0", results[0].Value)
}

func TestExtendSilenceRejectsNonPositiveDuration(t *testing.T) {
	eng, recorder, _ := newTestEngine(t, &fakeOracle{})

	m := &mapping.Mapping{Search: "web", TagName: "web-asg", HostPrefix: "web-"}
	err := eng.extendSilence(context.Background(), zap.NewNop(), m, "i-1234", 0, "r")
	require.ErrorIs(t, err, ErrInvalidWindow)
	assert.Equal(t, 0, recorder.SilenceCount())
}

func TestDecide(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	candidate := bosun.Window{Start: now, End: now.Add(10 * time.Minute)}

	t.Run("no existing window writes candidate", func(t *testing.T) {
		assert.Equal(t, &candidate, decide(nil, candidate))
	})

	t.Run("shorter existing window is extended", func(t *testing.T) {
		existing := &bosun.Window{Start: now.Add(-time.Minute), End: now.Add(5 * time.Minute)}
		assert.Equal(t, &candidate, decide(existing, candidate))
	})

	t.Run("longer existing window is kept", func(t *testing.T) {
		existing := &bosun.Window{Start: now.Add(-time.Minute), End: now.Add(40 * time.Minute)}
		assert.Nil(t, decide(existing, candidate))
	})

	t.Run("equal end is a no-op", func(t *testing.T) {
		existing := &bosun.Window{Start: now.Add(-time.Minute), End: candidate.End}
		assert.Nil(t, decide(existing, candidate))
	})
}
