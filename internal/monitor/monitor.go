// Package monitor contains the eligibility decision and the batch
// processing loop that ties resolution, policy, dedup and dispatch
// together.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsdrift/ecswatch/internal/events"
	"github.com/opsdrift/ecswatch/internal/history"
	"github.com/opsdrift/ecswatch/internal/nodefacts"
	"github.com/opsdrift/ecswatch/internal/notify"
)

// Resolver resolves the true state of a container instance.
type Resolver interface {
	Resolve(ctx context.Context, containerInstanceARN, clusterARN string) (nodefacts.NodeState, error)
}

// Policy answers whether a cluster is opted into monitoring.
type Policy interface {
	IsMonitored(ctx context.Context, clusterARN, tagKey, tagValue string) (bool, error)
}

// Config carries the monitoring settings the processor decides with.
type Config struct {
	// TagKey and TagValue select clusters opted into monitoring.
	TagKey   string
	TagValue string
	// CheckAllClusters bypasses the tag check entirely.
	CheckAllClusters bool
	// Destination is where alerts are sent: an SNS topic ARN or a Slack
	// webhook URL depending on the configured channel.
	Destination string
	// Channel names the notification channel, recorded with each alert.
	Channel string
}

// Evaluator applies the three-condition eligibility predicate to a
// resolved node state.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an Evaluator delegating tag checks to the policy.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// IsEligible reports whether a node should be alerted on: monitoring must
// apply to its cluster, the node must be running, and the agent must still
// be disconnected. checkAll short-circuits the tag query.
func (e *Evaluator) IsEligible(ctx context.Context, state nodefacts.NodeState, checkAll bool, tagKey, tagValue string) (bool, error) {
	monitored := checkAll
	if !monitored {
		var err error
		monitored, err = e.policy.IsMonitored(ctx, state.ClusterARN, tagKey, tagValue)
		if err != nil {
			return false, err
		}
	}

	return monitored && state.Running && !state.AgentConnected, nil
}

// Processor runs one inbound batch through decode, resolution, eligibility,
// dedup and dispatch.
type Processor struct {
	resolver  Resolver
	evaluator *Evaluator
	notifier  notify.Notifier
	store     history.Store // optional
	cfg       Config
	log       *slog.Logger

	// OnAlert, when set, runs after each dispatched alert. It is the
	// extension point for custom per-node actions.
	OnAlert func(state nodefacts.NodeState)
}

// NewProcessor creates a Processor. store may be nil to disable alert
// history recording.
func NewProcessor(resolver Resolver, evaluator *Evaluator, notifier notify.Notifier, store history.Store, cfg Config, logger *slog.Logger) *Processor {
	return &Processor{
		resolver:  resolver,
		evaluator: evaluator,
		notifier:  notifier,
		store:     store,
		cfg:       cfg,
		log:       logger,
	}
}

// Process handles one batch of records in arrival order. The first
// malformed record, resolution failure, policy failure or notification
// failure aborts the batch. A record whose declared state is not "agent
// just disconnected while ACTIVE" stops the whole batch without error;
// this mirrors the long-standing behavior alert consumers rely on.
//
// The dedup set is owned by this call: duplicate suppression holds within
// one batch only, never across invocations.
func (p *Processor) Process(ctx context.Context, batch *events.Batch) error {
	batchID := uuid.New().String()
	log := p.log.With("batch_id", batchID)
	log.Info("start processing the event batch", "records", len(batch.Records))

	alerted := make(map[string]struct{})

	for i, rec := range batch.Records {
		log.Info("processing record", "record", i)

		sc, err := events.Decode(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		if !sc.RequiresProcessing() {
			log.Info("instance reconnected or not ACTIVE, stopping batch", "record", i)
			return nil
		}

		state, err := p.resolver.Resolve(ctx, sc.Detail.ContainerInstanceARN, sc.Detail.ClusterARN)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}

		eligible, err := p.evaluator.IsEligible(ctx, state, p.cfg.CheckAllClusters, p.cfg.TagKey, p.cfg.TagValue)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if !eligible {
			log.Info("container instance does not need to be checked", "node_id", state.NodeID)
			continue
		}

		if _, dup := alerted[state.NodeID]; dup {
			log.Info("avoiding duplicated alerts, node has already been processed", "node_id", state.NodeID)
			continue
		}
		alerted[state.NodeID] = struct{}{}

		if err := p.dispatch(ctx, batchID, state, log); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	return nil
}

func (p *Processor) dispatch(ctx context.Context, batchID string, state nodefacts.NodeState, log *slog.Logger) error {
	subject := alertSubject(state)
	body := alertBody(state)

	if err := p.notifier.Send(ctx, p.cfg.Destination, subject, body); err != nil {
		return err
	}

	// This log entry feeds the downstream metric extraction.
	log.Warn("agent disconnected",
		"cluster", state.ClusterShortName(),
		"node_id", state.NodeID)

	if p.store != nil {
		alert := &history.Alert{
			AlertID:      uuid.New().String(),
			BatchID:      batchID,
			NodeID:       state.NodeID,
			ClusterARN:   state.ClusterARN,
			ClusterName:  state.ClusterShortName(),
			Channel:      p.cfg.Channel,
			Destination:  p.cfg.Destination,
			Subject:      subject,
			Body:         body,
			DispatchedAt: time.Now().UTC(),
		}
		if err := p.store.RecordAlert(ctx, alert); err != nil {
			log.Error("failed to record alert history", "node_id", state.NodeID, "error", err)
		}
	}

	if p.OnAlert != nil {
		p.OnAlert(state)
	}

	return nil
}

func alertSubject(state nodefacts.NodeState) string {
	return fmt.Sprintf("[ISSUE] ECS Instance - %s", state.NodeID)
}

func alertBody(state nodefacts.NodeState) string {
	return fmt.Sprintf("[ISSUE] ECS Container Instance %s from Cluster %s has the ECS Agent disconnected.",
		state.NodeID, state.ClusterARN)
}
