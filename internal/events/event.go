// Package events defines the inbound batch format: queue records whose
// bodies carry ECS container-instance state-change events.
package events

import (
	"encoding/json"

	"github.com/opsdrift/ecswatch/internal/faults"
)

const (
	// SourceECS is the only event source accepted for processing.
	SourceECS = "aws.ecs"
	// DetailTypeStateChange is the only detail type accepted for processing.
	DetailTypeStateChange = "ECS Container Instance State Change"
	// StatusActive is the declared container-instance status required for
	// a record to be processed.
	StatusActive = "ACTIVE"
)

// RawRecord is one queue record in an inbound batch. Body is an opaque
// JSON document until decoded.
type RawRecord struct {
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body"`
}

// Batch is the raw input for one processing invocation.
type Batch struct {
	Records []RawRecord `json:"Records"`
}

// StateChange is the decoded body of a supported record.
type StateChange struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
	Detail     Detail `json:"detail"`
}

// Detail carries the container-instance fields of a state-change event.
// AgentConnected is a pointer so a missing field is distinguishable from an
// explicit false: only an explicit false represents "agent just disconnected".
type Detail struct {
	ContainerInstanceARN string `json:"containerInstanceArn"`
	ClusterARN           string `json:"clusterArn"`
	AgentConnected       *bool  `json:"agentConnected"`
	Status               string `json:"status"`
}

// Decode parses a record body into a StateChange.
func Decode(rec RawRecord) (*StateChange, error) {
	if rec.Body == "" {
		return nil, faults.New(faults.MalformedPayload, "events.Decode", "message empty, no details to process")
	}

	var sc StateChange
	if err := json.Unmarshal([]byte(rec.Body), &sc); err != nil {
		return nil, faults.Wrap(faults.MalformedPayload, "events.Decode", err)
	}
	return &sc, nil
}

// Validate checks that the event is the single supported kind.
func (s *StateChange) Validate() error {
	if s.Source != SourceECS || s.DetailType != DetailTypeStateChange {
		return faults.New(faults.UnsupportedEvent, "events.Validate",
			"only 'aws.ecs' events and container-instance state changes are supported")
	}
	return nil
}

// RequiresProcessing reports whether the event represents "agent just
// disconnected while ACTIVE". Anything else (reconnected, draining,
// missing agentConnected field) does not.
func (s *StateChange) RequiresProcessing() bool {
	return s.Detail.AgentConnected != nil &&
		!*s.Detail.AgentConnected &&
		s.Detail.Status == StatusActive
}
