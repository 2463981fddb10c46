package faults

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
)

func TestWrapLiftsAPIErrorFields(t *testing.T) {
	cause := &smithy.GenericAPIError{
		Code:    "ClusterNotFoundException",
		Message: "Cluster not found.",
	}

	f := Wrap(Resolution, "ecs.DescribeContainerInstances", cause)

	if f.Code != "ClusterNotFoundException" {
		t.Errorf("expected upstream code to be lifted, got %q", f.Code)
	}
	if f.Message != "Cluster not found." {
		t.Errorf("expected upstream message to be lifted, got %q", f.Message)
	}
	if !errors.Is(f, error(cause)) {
		t.Error("wrapped fault should keep the cause in its chain")
	}
	if !strings.Contains(f.Error(), "ClusterNotFoundException") {
		t.Errorf("fault string should carry the upstream code, got %q", f.Error())
	}
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("connection reset")
	f := Wrap(Notification, "sns.Publish", cause)

	if f.Code != "" {
		t.Errorf("plain errors have no upstream code, got %q", f.Code)
	}
	if f.Message != "connection reset" {
		t.Errorf("unexpected message %q", f.Message)
	}
}

func TestKindOf(t *testing.T) {
	f := New(PolicyQuery, "ecs.DescribeClusters", "no clusters in response")
	wrapped := fmt.Errorf("record 2: %w", f)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected a fault in the chain")
	}
	if kind != PolicyQuery {
		t.Errorf("expected PolicyQuery, got %v", kind)
	}

	if _, ok := KindOf(errors.New("plain")); ok {
		t.Error("plain errors carry no kind")
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		MalformedPayload: "malformed_payload",
		UnsupportedEvent: "unsupported_event",
		Resolution:       "resolution",
		PolicyQuery:      "policy_query",
		Notification:     "notification",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
