package swarm

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func testPubSub(t *testing.T) *PubSub {
	t.Helper()
	sender, _ := testSender(t)
	return NewPubSub(NewTransport(sender))
}

func TestSubscribeAndLocalDelivery(t *testing.T) {
	ps := testPubSub(t)
	_, priv := testSender(t)

	got := 0
	unsub := ps.Subscribe("topic-a", func(env *protocol.Envelope, from SenderInfo) {
		got++
	})

	env, err := protocol.NewNotification(protocol.MethodKeepAlive, map[string]int{}, priv)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := ps.Publish("topic-a", env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got != 1 {
		t.Fatalf("delivered = %d", got)
	}

	// Publishing on another topic does not deliver here.
	if err := ps.Publish("topic-b", env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got != 1 {
		t.Fatalf("delivered = %d after foreign topic", got)
	}

	unsub()
	if ps.Subscribed("topic-a") {
		t.Fatal("topic should be torn down after last unsubscribe")
	}
}

func TestSubscriptionRefcounting(t *testing.T) {
	ps := testPubSub(t)

	unsub1 := ps.Subscribe("t", func(*protocol.Envelope, SenderInfo) {})
	unsub2 := ps.Subscribe("t", func(*protocol.Envelope, SenderInfo) {})

	unsub1()
	if !ps.Subscribed("t") {
		t.Fatal("topic torn down while a handle remains")
	}
	unsub1() // releasing twice is a no-op
	if !ps.Subscribed("t") {
		t.Fatal("double release broke refcounting")
	}
	unsub2()
	if ps.Subscribed("t") {
		t.Fatal("topic should be gone")
	}
}

func TestGossipDedup(t *testing.T) {
	ps := testPubSub(t)
	sender, priv := testSender(t)

	got := 0
	ps.Subscribe("t", func(*protocol.Envelope, SenderInfo) { got++ })

	env, err := protocol.NewNotification(protocol.MethodKeepAlive, map[string]int{}, priv)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	frame := &Frame{Sender: sender, Topic: "t", GossipID: "g1", MaxHops: 5, Envelope: env}

	if fresh := ps.HandleFrame(frame, sender.NodeID); !fresh {
		t.Fatal("first delivery should be fresh")
	}
	if fresh := ps.HandleFrame(frame, sender.NodeID); fresh {
		t.Fatal("duplicate should be suppressed")
	}
	if got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
}

func TestGossipRequiresTopicAndID(t *testing.T) {
	ps := testPubSub(t)
	sender, priv := testSender(t)
	env, _ := protocol.NewNotification(protocol.MethodKeepAlive, map[string]int{}, priv)

	if ps.HandleFrame(&Frame{Sender: sender, Envelope: env}, sender.NodeID) {
		t.Fatal("frame without topic should be ignored")
	}
	if ps.HandleFrame(&Frame{Sender: sender, Topic: "t", Envelope: env}, sender.NodeID) {
		t.Fatal("frame without gossip id should be ignored")
	}
}
