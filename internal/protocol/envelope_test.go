package protocol

import (
	"crypto/ed25519"
	"testing"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return pub, priv
}

func TestEnvelopeSignAndVerify(t *testing.T) {
	pub, priv := testKeypair(t)

	env, err := NewRequest(MethodHandshake, map[string]interface{}{"agent_id": "did:swarm:ab", "epoch": 5}, priv)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if env.ID == "" {
		t.Fatal("request envelope must carry an id")
	}
	if env.JSONRPC != JSONRPCVersion {
		t.Fatalf("jsonrpc = %s", env.JSONRPC)
	}
	if err := env.Verify(pub, 5); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestEnvelopeNotificationHasNoID(t *testing.T) {
	_, priv := testKeypair(t)
	env, err := NewNotification(MethodKeepAlive, KeepAliveParams{AgentID: "did:swarm:ab", Epoch: 1}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if env.ID != "" {
		t.Fatalf("notification must not carry an id, got %q", env.ID)
	}
}

func TestEnvelopeRejectsWrongKey(t *testing.T) {
	_, priv := testKeypair(t)
	otherPub, _ := testKeypair(t)

	env, err := NewNotification(MethodKeepAlive, map[string]int{"epoch": 1}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	err = env.Verify(otherPub, 1)
	if !IsKind(err, KindInvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestEnvelopeRejectsTamperedParams(t *testing.T) {
	pub, priv := testKeypair(t)
	env, err := NewNotification(MethodKeepAlive, map[string]int{"epoch": 1}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	env.Params = []byte(`{"epoch":2}`)
	if err := env.Verify(pub, 1); !IsKind(err, KindInvalidSignature) {
		t.Fatalf("expected InvalidSignature for tampered params, got %v", err)
	}
}

func TestEnvelopeRejectsWrongProtocolVersion(t *testing.T) {
	pub, priv := testKeypair(t)
	env, err := NewNotification(MethodKeepAlive, map[string]int{"epoch": 1}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	env.ProtocolVersion = "/openswarm/aether/0.9.0"
	if err := env.Verify(pub, 1); !IsKind(err, KindInvalidRequest) {
		t.Fatalf("expected InvalidRequest for protocol version, got %v", err)
	}
}

func TestEnvelopeEpochWindow(t *testing.T) {
	pub, priv := testKeypair(t)

	// Epoch 3 is exactly at the edge of the window for current epoch 5.
	env, err := NewNotification(MethodKeepAlive, map[string]uint64{"epoch": 3}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if err := env.Verify(pub, 5); err != nil {
		t.Fatalf("epoch 3 at current 5 should pass: %v", err)
	}

	// Epoch 2 is one past the tolerance.
	stale, err := NewNotification(MethodKeepAlive, map[string]uint64{"epoch": 2}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if err := stale.Verify(pub, 5); !IsKind(err, KindEpochMismatch) {
		t.Fatalf("expected EpochMismatch, got %v", err)
	}

	// Params without an epoch field are not subject to the window.
	free, err := NewNotification(MethodSwarmAnnounce, map[string]string{"swarm_id": "public"}, priv)
	if err != nil {
		t.Fatalf("new notification: %v", err)
	}
	if err := free.Verify(pub, 100); err != nil {
		t.Fatalf("epoch-free params should pass: %v", err)
	}
}

func TestErrorResponseCodes(t *testing.T) {
	cases := []struct {
		kind ErrorKind
		code int
	}{
		{KindParse, -32700},
		{KindInvalidRequest, -32600},
		{KindMethodNotFound, -32601},
		{KindInvalidParams, -32602},
		{KindTaskNotFound, -32000},
		{KindCommitRevealMismatch, -32000},
	}
	for _, tc := range cases {
		resp := ErrorResponse("1", NewError(tc.kind, "boom"))
		if resp.Error == nil {
			t.Fatalf("%s: missing error object", tc.kind)
		}
		if resp.Error.Code != tc.code {
			t.Errorf("%s: code = %d, want %d", tc.kind, resp.Error.Code, tc.code)
		}
	}
}

func TestKnownMethod(t *testing.T) {
	if !KnownMethod(MethodProposalCommit) {
		t.Fatal("proposal_commit should be known")
	}
	if KnownMethod("swarm.bogus") {
		t.Fatal("bogus method should be unknown")
	}
}
