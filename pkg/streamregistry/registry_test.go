package streamregistry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

type fakeStream struct {
	sent   [][]byte
	closed bool
}

func (f *fakeStream) Send(msg []byte) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeStream) Close() { f.closed = true }

func TestSignal_RoundTrip(t *testing.T) {
	clusterID := uuid.New()
	sig := Signal{Type: SignalConfigUpdate, ClusterID: clusterID, Payload: []byte(`{"a":1}`)}

	b, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Signal
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != SignalConfigUpdate || decoded.ClusterID != clusterID {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestLivenessKey_Format(t *testing.T) {
	id := uuid.New()
	want := "cluster:" + id.String() + ":alive"
	if got := livenessKey(id); got != want {
		t.Errorf("livenessKey = %q, want %q", got, want)
	}
}

func TestReleaseLocal_NoEntryReturnsFalse(t *testing.T) {
	r := &Registry{streams: make(map[uuid.UUID]*entry)}
	if r.releaseLocal(uuid.New()) {
		t.Error("expected false for unknown cluster")
	}
}

func TestIsLocal(t *testing.T) {
	id := uuid.New()
	r := &Registry{streams: make(map[uuid.UUID]*entry)}
	if r.IsLocal(id) {
		t.Error("expected false before registration")
	}
	r.streams[id] = &entry{stream: &fakeStream{}}
	if !r.IsLocal(id) {
		t.Error("expected true after registration")
	}
}
