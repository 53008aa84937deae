package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeMsg struct {
	numDelivered uint64
	acked        bool
	nakked       bool
	termed       bool
}

func (f *fakeMsg) Ack() error  { f.acked = true; return nil }
func (f *fakeMsg) Nak() error  { f.nakked = true; return nil }
func (f *fakeMsg) Term() error { f.termed = true; return nil }
func (f *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: f.numDelivered}, nil
}

func TestResolveAcksOnSuccess(t *testing.T) {
	m := &fakeMsg{numDelivered: 1}
	resolve(m, nil, "FRAMES", 0)
	if !m.acked || m.nakked || m.termed {
		t.Fatalf("a nil handler error must ack and nothing else")
	}
}

func TestResolveNaksBelowMaxDeliver(t *testing.T) {
	m := &fakeMsg{numDelivered: maxDeliver - 1}
	resolve(m, errors.New("transient"), "FRAMES", 0)
	if !m.nakked || m.acked || m.termed {
		t.Fatalf("a failing message under MaxDeliver should be nakked for redelivery")
	}
}

func TestResolveTermsAtMaxDeliver(t *testing.T) {
	m := &fakeMsg{numDelivered: maxDeliver}
	resolve(m, errors.New("poison"), "FRAMES", 0)
	if !m.termed || m.acked || m.nakked {
		t.Fatalf("a message that has reached MaxDeliver must be terminated, not nakked again")
	}
}

func TestResolveTermsBeyondMaxDeliver(t *testing.T) {
	m := &fakeMsg{numDelivered: maxDeliver + 5}
	resolve(m, errors.New("poison"), "FRAMES", 0)
	if !m.termed {
		t.Fatalf("delivery counts beyond MaxDeliver must still terminate, never nak forever")
	}
}

func TestResolveTermsPoisonOnFirstDelivery(t *testing.T) {
	m := &fakeMsg{numDelivered: 1}
	resolve(m, Poison(errors.New("malformed json")), "FRAMES", 0)
	if !m.termed || m.acked || m.nakked {
		t.Fatalf("a Poison-wrapped error must terminate immediately, without ever being nakked for retry")
	}
}

func TestResolveTermsPoisonWrappedByCaller(t *testing.T) {
	m := &fakeMsg{numDelivered: 1}
	wrapped := fmt.Errorf("handle frame: %w", Poison(errors.New("malformed json")))
	resolve(m, wrapped, "FRAMES", 0)
	if !m.termed {
		t.Fatalf("Poison must still be detected through an additional fmt.Errorf wrap layer")
	}
}
