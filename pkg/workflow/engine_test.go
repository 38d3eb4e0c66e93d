package workflow

import (
	"testing"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

func TestChannelFor(t *testing.T) {
	if got := channelFor("execution.completed"); got != "workflow:events:execution.completed" {
		t.Errorf("channelFor = %q", got)
	}
}

func TestFieldMatches(t *testing.T) {
	payload := jsonvalue.Object()
	payload.Set("executionId", jsonvalue.String("abc-123"))

	if !fieldMatches(payload, "executionId", "abc-123") {
		t.Error("expected match")
	}
	if fieldMatches(payload, "executionId", "other") {
		t.Error("expected no match")
	}
	if fieldMatches(payload, "missingField", "abc-123") {
		t.Error("expected no match for missing field")
	}
}
