package swarm

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func testSender(t *testing.T) (SenderInfo, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	agent := protocol.DeriveAgentID(pub)
	return SenderInfo{
		NodeID:  NodeIDFromAgent(agent),
		AgentID: agent,
		PubKey:  hex.EncodeToString(pub),
	}, priv
}

func signedFrame(t *testing.T, method string, params interface{}, sender SenderInfo, priv ed25519.PrivateKey) *Frame {
	t.Helper()
	env, err := protocol.NewNotification(method, params, priv)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return &Frame{Sender: sender, Envelope: env}
}

func TestRouterDispatch(t *testing.T) {
	rep := NewReputation()
	router := NewRouter(rep, func() uint64 { return 1 }, nil)

	delivered := 0
	router.Handle(protocol.MethodKeepAlive, func(env *protocol.Envelope, from SenderInfo) error {
		delivered++
		return nil
	})

	sender, priv := testSender(t)
	frame := signedFrame(t, protocol.MethodKeepAlive, protocol.KeepAliveParams{AgentID: sender.AgentID, Epoch: 1}, sender, priv)
	if err := router.Dispatch(frame, sender.NodeID); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d", delivered)
	}
	// A verified, accepted message raises the sender's standing.
	if rep.Score(sender.AgentID) <= 0.5 {
		t.Fatalf("score = %v after success", rep.Score(sender.AgentID))
	}
}

func TestRouterRejectsUnknownMethod(t *testing.T) {
	router := NewRouter(NewReputation(), func() uint64 { return 1 }, nil)
	sender, priv := testSender(t)
	frame := signedFrame(t, protocol.MethodKeepAlive, map[string]int{}, sender, priv)
	frame.Envelope.Method = "swarm.bogus"
	err := router.Dispatch(frame, sender.NodeID)
	if !protocol.IsKind(err, protocol.KindMethodNotFound) {
		t.Fatalf("expected MethodNotFound, got %v", err)
	}
}

func TestRouterCountsForgedSignature(t *testing.T) {
	rep := NewReputation()
	router := NewRouter(rep, func() uint64 { return 1 }, nil)
	router.Handle(protocol.MethodKeepAlive, func(*protocol.Envelope, SenderInfo) error { return nil })

	sender, priv := testSender(t)
	frame := signedFrame(t, protocol.MethodKeepAlive, map[string]int{"epoch": 1}, sender, priv)

	// A different key's identity claims the frame.
	imposter, _ := testSender(t)
	frame.Sender = imposter

	err := router.Dispatch(frame, imposter.NodeID)
	if !protocol.IsKind(err, protocol.KindInvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
	if rep.Violations(imposter.AgentID) != 1 {
		t.Fatalf("violations = %d, want 1", rep.Violations(imposter.AgentID))
	}
}

func TestRouterEnforcesEpochWindow(t *testing.T) {
	rep := NewReputation()
	router := NewRouter(rep, func() uint64 { return 10 }, nil)
	router.Handle(protocol.MethodKeepAlive, func(*protocol.Envelope, SenderInfo) error { return nil })

	sender, priv := testSender(t)
	stale := signedFrame(t, protocol.MethodKeepAlive, map[string]uint64{"epoch": 3}, sender, priv)
	err := router.Dispatch(stale, sender.NodeID)
	if !protocol.IsKind(err, protocol.KindEpochMismatch) {
		t.Fatalf("expected EpochMismatch, got %v", err)
	}
	if rep.Violations(sender.AgentID) != 1 {
		t.Fatalf("violations = %d", rep.Violations(sender.AgentID))
	}
}
