package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/opsdrift/ecswatch/internal/events"
	"github.com/opsdrift/ecswatch/internal/faults"
	"github.com/opsdrift/ecswatch/internal/history"
	"github.com/opsdrift/ecswatch/internal/nodefacts"
)

type fakeResolver struct {
	states map[string]nodefacts.NodeState
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(ctx context.Context, containerInstanceARN, clusterARN string) (nodefacts.NodeState, error) {
	f.calls++
	if f.err != nil {
		return nodefacts.NodeState{}, f.err
	}
	return f.states[containerInstanceARN], nil
}

type fakePolicy struct {
	monitored bool
	err       error
	calls     int
}

func (f *fakePolicy) IsMonitored(ctx context.Context, clusterARN, tagKey, tagValue string) (bool, error) {
	f.calls++
	return f.monitored, f.err
}

type fakeNotifier struct {
	sent []string // subjects
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, destination, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

type fakeStore struct {
	recorded []*history.Alert
	err      error
}

func (f *fakeStore) RecordAlert(ctx context.Context, alert *history.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, alert)
	return nil
}

func (f *fakeStore) GetAlert(ctx context.Context, alertID string) (*history.Alert, error) {
	return nil, nil
}

func (f *fakeStore) ListAlerts(ctx context.Context, filters *history.Filters) ([]*history.Alert, error) {
	return f.recorded, nil
}

func (f *fakeStore) Close() error { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const clusterARN = "arn:aws:ecs:us-east-1:111122223333:cluster/prod"

func record(instanceARN string, agentConnected bool, status string) events.RawRecord {
	body := fmt.Sprintf(`{
		"source": "aws.ecs",
		"detail-type": "ECS Container Instance State Change",
		"detail": {
			"containerInstanceArn": %q,
			"clusterArn": %q,
			"agentConnected": %v,
			"status": %q
		}
	}`, instanceARN, clusterARN, agentConnected, status)
	return events.RawRecord{Body: body}
}

func defaultConfig() Config {
	return Config{
		TagKey:      "monitor",
		TagValue:    "yes",
		Destination: "arn:aws:sns:us-east-1:111122223333:alerts",
		Channel:     "sns",
	}
}

func TestIsEligible(t *testing.T) {
	state := func(running, agentConnected bool) nodefacts.NodeState {
		return nodefacts.NodeState{
			NodeID:         "i-0123abcd",
			ClusterARN:     clusterARN,
			Running:        running,
			AgentConnected: agentConnected,
		}
	}

	cases := []struct {
		name      string
		state     nodefacts.NodeState
		checkAll  bool
		monitored bool
		want      bool
	}{
		{"tagged, running, disconnected", state(true, false), false, true, true},
		{"not monitored", state(true, false), false, false, false},
		{"check all bypasses tags", state(true, false), true, false, true},
		{"not running", state(false, false), false, true, false},
		{"not running even with check all", state(false, false), true, true, false},
		{"agent reconnected", state(true, true), false, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := &fakePolicy{monitored: tc.monitored}
			e := NewEvaluator(policy)

			got, err := e.IsEligible(context.Background(), tc.state, tc.checkAll, "monitor", "yes")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsEligible = %v, want %v", got, tc.want)
			}
			if tc.checkAll && policy.calls != 0 {
				t.Error("check-all must not query the policy")
			}
		})
	}

	t.Run("policy failure propagates", func(t *testing.T) {
		cause := faults.New(faults.PolicyQuery, "ecs.DescribeClusters", "boom")
		e := NewEvaluator(&fakePolicy{err: cause})

		_, err := e.IsEligible(context.Background(), state(true, false), false, "monitor", "yes")
		if kind, ok := faults.KindOf(err); !ok || kind != faults.PolicyQuery {
			t.Errorf("expected policy query fault, got %v", err)
		}
	})
}

func newProcessor(resolver *fakeResolver, policy *fakePolicy, notifier *fakeNotifier, store history.Store, cfg Config) *Processor {
	return NewProcessor(resolver, NewEvaluator(policy), notifier, store, cfg, discard())
}

func TestProcessDispatchesEligibleAlert(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
	}}
	notifier := &fakeNotifier{}
	store := &fakeStore{}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, notifier, store, defaultConfig())

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0] != "[ISSUE] ECS Instance - i-0123abcd" {
		t.Errorf("subject should carry the resolved node id, got %q", notifier.sent[0])
	}
	if len(store.recorded) != 1 {
		t.Fatalf("expected one recorded alert, got %d", len(store.recorded))
	}
	if store.recorded[0].ClusterName != "prod" || store.recorded[0].NodeID != "i-0123abcd" {
		t.Errorf("unexpected recorded alert %+v", store.recorded[0])
	}
}

func TestProcessCheckAllBypassesTags(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
	}}
	policy := &fakePolicy{monitored: false}
	notifier := &fakeNotifier{}
	cfg := defaultConfig()
	cfg.CheckAllClusters = true
	cfg.TagKey, cfg.TagValue = "", ""
	p := newProcessor(resolver, policy, notifier, nil, cfg)

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Errorf("expected dispatch with check-all, got %d notifications", len(notifier.sent))
	}
	if policy.calls != 0 {
		t.Error("check-all must not query cluster tags")
	}
}

func TestProcessSkipsIneligibleNode(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: false, AgentConnected: false},
	}}
	notifier := &fakeNotifier{}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, notifier, nil, defaultConfig())

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("stopped node must not be an error: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("stopped node must not be alerted, got %d notifications", len(notifier.sent))
	}
}

func TestProcessStopsBatchOnNonMatchingRecord(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/2": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
	}}
	notifier := &fakeNotifier{}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, notifier, nil, defaultConfig())

	// The reconnected record comes first; the eligible one after it must
	// never be looked at.
	batch := &events.Batch{Records: []events.RawRecord{
		record("arn:instance/1", true, "ACTIVE"),
		record("arn:instance/2", false, "ACTIVE"),
	}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolver.calls != 0 {
		t.Error("no facts lookup may happen once the batch is stopped")
	}
	if len(notifier.sent) != 0 {
		t.Errorf("no notification may be sent once the batch is stopped, got %d", len(notifier.sent))
	}
}

func TestProcessStopsBatchOnNonActiveStatus(t *testing.T) {
	resolver := &fakeResolver{}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, &fakeNotifier{}, nil, defaultConfig())

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "DRAINING")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.calls != 0 {
		t.Error("non-ACTIVE record must not trigger a facts lookup")
	}
}

func TestProcessDeduplicatesWithinBatch(t *testing.T) {
	shared := nodefacts.NodeState{NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false}
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": shared,
		"arn:instance/2": shared,
	}}
	notifier := &fakeNotifier{}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, notifier, nil, defaultConfig())

	batch := &events.Batch{Records: []events.RawRecord{
		record("arn:instance/1", false, "ACTIVE"),
		record("arn:instance/2", false, "ACTIVE"),
	}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Errorf("expected exactly one notification for the same node, got %d", len(notifier.sent))
	}
}

func TestProcessFailFast(t *testing.T) {
	t.Run("malformed record", func(t *testing.T) {
		p := newProcessor(&fakeResolver{}, &fakePolicy{}, &fakeNotifier{}, nil, defaultConfig())

		batch := &events.Batch{Records: []events.RawRecord{{Body: "{not json"}}}
		err := p.Process(context.Background(), batch)
		if kind, ok := faults.KindOf(err); !ok || kind != faults.MalformedPayload {
			t.Errorf("expected malformed payload fault, got %v", err)
		}
	})

	t.Run("unsupported event", func(t *testing.T) {
		p := newProcessor(&fakeResolver{}, &fakePolicy{}, &fakeNotifier{}, nil, defaultConfig())

		batch := &events.Batch{Records: []events.RawRecord{
			{Body: `{"source":"aws.ec2","detail-type":"EC2 Instance State-change Notification","detail":{}}`},
		}}
		err := p.Process(context.Background(), batch)
		if kind, ok := faults.KindOf(err); !ok || kind != faults.UnsupportedEvent {
			t.Errorf("expected unsupported event fault, got %v", err)
		}
	})

	t.Run("resolution failure aborts without dispatch", func(t *testing.T) {
		cause := faults.New(faults.Resolution, "ecs.DescribeContainerInstances", "no matching container instance")
		notifier := &fakeNotifier{}
		p := newProcessor(&fakeResolver{err: cause}, &fakePolicy{monitored: true}, notifier, nil, defaultConfig())

		batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
		err := p.Process(context.Background(), batch)
		if kind, ok := faults.KindOf(err); !ok || kind != faults.Resolution {
			t.Errorf("expected resolution fault, got %v", err)
		}
		if len(notifier.sent) != 0 {
			t.Error("no notification may be dispatched after a resolution failure")
		}
	})

	t.Run("notification failure aborts", func(t *testing.T) {
		resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
			"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
		}}
		cause := faults.New(faults.Notification, "sns.Publish", "topic gone")
		p := newProcessor(resolver, &fakePolicy{monitored: true}, &fakeNotifier{err: cause}, nil, defaultConfig())

		batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
		err := p.Process(context.Background(), batch)
		if kind, ok := faults.KindOf(err); !ok || kind != faults.Notification {
			t.Errorf("expected notification fault, got %v", err)
		}
	})
}

func TestProcessHistoryFailureDoesNotAbort(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
	}}
	notifier := &fakeNotifier{}
	store := &fakeStore{err: errors.New("disk full")}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, notifier, store, defaultConfig())

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("history failures are best-effort, got %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Errorf("notification should still be dispatched, got %d", len(notifier.sent))
	}
}

func TestProcessRunsOnAlertHook(t *testing.T) {
	resolver := &fakeResolver{states: map[string]nodefacts.NodeState{
		"arn:instance/1": {NodeID: "i-0123abcd", ClusterARN: clusterARN, Running: true, AgentConnected: false},
	}}
	p := newProcessor(resolver, &fakePolicy{monitored: true}, &fakeNotifier{}, nil, defaultConfig())

	var hooked []string
	p.OnAlert = func(state nodefacts.NodeState) {
		hooked = append(hooked, state.NodeID)
	}

	batch := &events.Batch{Records: []events.RawRecord{record("arn:instance/1", false, "ACTIVE")}}
	if err := p.Process(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(hooked) != 1 || hooked[0] != "i-0123abcd" {
		t.Errorf("expected hook to run for the alerted node, got %v", hooked)
	}
}
