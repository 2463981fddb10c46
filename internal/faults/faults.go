// Package faults defines the closed set of failure kinds surfaced by batch
// processing. Every upstream error (AWS API failures included) is wrapped
// into a Fault so callers see a uniform failure surface while the upstream
// code and message stay available as structured fields.
package faults

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Kind identifies the category of a processing failure.
type Kind int

const (
	// MalformedPayload means a record body was absent or not parsable.
	MalformedPayload Kind = iota
	// UnsupportedEvent means the event source or detail type is not the
	// single supported container-instance state-change kind.
	UnsupportedEvent
	// Resolution means the node/cluster facts lookup failed or returned
	// no matching record.
	Resolution
	// PolicyQuery means the cluster tag lookup failed.
	PolicyQuery
	// Notification means the alert dispatch failed.
	Notification
)

func (k Kind) String() string {
	switch k {
	case MalformedPayload:
		return "malformed_payload"
	case UnsupportedEvent:
		return "unsupported_event"
	case Resolution:
		return "resolution"
	case PolicyQuery:
		return "policy_query"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// Fault is a categorized processing failure. Code and Message carry the
// upstream error code/message when the cause was an AWS API error.
type Fault struct {
	Kind    Kind
	Op      string // failing operation, e.g. "ecs.DescribeContainerInstances"
	Code    string // upstream error code, if any
	Message string
	Err     error
}

func (f *Fault) Error() string {
	switch {
	case f.Code != "":
		return fmt.Sprintf("%s: %s: %s: %s", f.Kind, f.Op, f.Code, f.Message)
	case f.Op != "":
		return fmt.Sprintf("%s: %s: %s", f.Kind, f.Op, f.Message)
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a Fault without an underlying cause.
func New(kind Kind, op, message string) *Fault {
	return &Fault{Kind: kind, Op: op, Message: message}
}

// Wrap categorizes an upstream error. When err is an AWS API error the
// service error code and message are lifted into the Fault.
func Wrap(kind Kind, op string, err error) *Fault {
	f := &Fault{Kind: kind, Op: op, Message: err.Error(), Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		f.Code = apiErr.ErrorCode()
		f.Message = apiErr.ErrorMessage()
	}

	return f
}

// KindOf reports the Kind of the first Fault in err's chain.
func KindOf(err error) (Kind, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}
