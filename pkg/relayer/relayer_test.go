package relayer

import (
	"testing"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
	"github.com/wisbric/dispatch/pkg/queue"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	c := jsonCodec{}
	frame := ServerFrame{Type: FrameConfigUpdate, ConfigUpdate: jsonvalue.String("v2")}

	b, err := c.Marshal(&frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded ServerFrame
	if err := c.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != FrameConfigUpdate {
		t.Errorf("Type = %q, want %q", decoded.Type, FrameConfigUpdate)
	}
	if s, _ := decoded.ConfigUpdate.AsString(); s != "v2" {
		t.Errorf("ConfigUpdate = %q, want %q", s, "v2")
	}
}

func TestFrameFromMessage_Work(t *testing.T) {
	msg := queue.NewWorkMessage(queue.WorkItem{AgentName: "scanner"})

	frame, ok := frameFromMessage(msg)
	if !ok {
		t.Fatal("expected ok=true for work message")
	}
	if frame.Type != FrameWorkItem {
		t.Errorf("Type = %q, want %q", frame.Type, FrameWorkItem)
	}
	if name, _ := frame.WorkItem.Get("agentName").AsString(); name != "scanner" {
		t.Errorf("agentName = %q, want %q", name, "scanner")
	}
}

func TestFrameFromMessage_Registration(t *testing.T) {
	msg := queue.NewRegistrationMessage(queue.RegistrationItem{AgentName: "scanner"})

	frame, ok := frameFromMessage(msg)
	if !ok {
		t.Fatal("expected ok=true for registration message")
	}
	if frame.Type != FrameRegistrationItem {
		t.Errorf("Type = %q, want %q", frame.Type, FrameRegistrationItem)
	}
}

func TestFrameFromMessage_UnknownType(t *testing.T) {
	if _, ok := frameFromMessage(queue.Message{Type: "BOGUS"}); ok {
		t.Error("expected ok=false for unknown message type")
	}
}

func TestTeardownReason(t *testing.T) {
	if got := teardownReason(nil); got != "end_of_stream" {
		t.Errorf("teardownReason(nil) = %q, want end_of_stream", got)
	}
	if got := teardownReason(errBoom); got != "error" {
		t.Errorf("teardownReason(err) = %q, want error", got)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
