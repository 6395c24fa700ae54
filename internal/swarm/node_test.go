package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/state"
	"github.com/ssd-technologies/openswarm/internal/storage"
)

// testNode starts a node on a random loopback port with fast timers and a
// low handshake difficulty.
func testNode(t *testing.T) *Node {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	identity, err := protocol.LoadOrGenerateIdentity(t.TempDir() + "/identity.key")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	node := NewNode(identity, Config{
		ListenAddr:        "127.0.0.1:0",
		PoWDifficulty:     8,
		KeepaliveInterval: 50 * time.Millisecond,
		LeaderTimeout:     200 * time.Millisecond,
		EpochDuration:     time.Hour,
	}, state.NewContentStore(db, identity.AgentID), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := node.Start(ctx); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		node.Close()
	})
	return node
}

func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	if err := a.Connect(b.Addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
}

func TestNodeStatusFresh(t *testing.T) {
	n := testNode(t)
	status := n.GetStatus()
	if status.AgentID != n.AgentID() {
		t.Fatalf("agent id = %s", status.AgentID)
	}
	if status.Epoch != 1 {
		t.Fatalf("epoch = %d", status.Epoch)
	}
	if status.Tier != "Tier1" {
		t.Fatalf("lone node tier = %s, want Tier1", status.Tier)
	}
	if status.ActiveTasks != 0 || status.ContentItems != 0 {
		t.Fatalf("fresh node not empty: %+v", status)
	}
}

func TestHandshakeRegistersPeer(t *testing.T) {
	a := testNode(t)
	b := testNode(t)
	connectNodes(t, a, b)

	// b received a's handshake and knows a.
	if _, ok := b.replica.Agents.Get(a.AgentID()); !ok {
		t.Fatal("handshake did not register the dialing peer")
	}
	if b.table.Size() == 0 {
		t.Fatal("routing table empty after handshake")
	}
}

// Scenario: single-node self-injection. The task is exposed to the local
// agent, executed directly, and completes with a leaf artifact whose merkle
// hash equals the content CID.
func TestSingleNodeInjectAndComplete(t *testing.T) {
	n := testNode(t)

	injected, err := n.InjectTask("X")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if !injected.Injected || injected.Epoch != 1 {
		t.Fatalf("inject result = %+v", injected)
	}

	pending := n.ReceiveTask()
	if len(pending.PendingTasks) != 1 || pending.PendingTasks[0].TaskID != injected.TaskID {
		t.Fatalf("pending = %+v", pending.PendingTasks)
	}

	payload := []byte("executor payload")
	artifact := protocol.NewArtifact(injected.TaskID, n.AgentID(), payload, "text/plain")
	result, err := n.SubmitResult(&protocol.ResultSubmissionParams{
		TaskID:   injected.TaskID,
		AgentID:  n.AgentID(),
		Artifact: *artifact,
	}, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Accepted {
		t.Fatal("result not accepted")
	}

	view, err := n.GetTask(injected.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if view.Task.Status != protocol.StatusCompleted {
		t.Fatalf("status = %s", view.Task.Status)
	}
	if artifact.MerkleHash != artifact.ContentCID || artifact.ContentCID != protocol.ComputeCID(payload) {
		t.Fatal("leaf artifact hash chain broken")
	}
	if n.GetStatus().ActiveTasks != 0 {
		t.Fatalf("active tasks = %d, want 0", n.GetStatus().ActiveTasks)
	}
	if n.GetStatus().ContentItems != 1 {
		t.Fatalf("content items = %d", n.GetStatus().ContentItems)
	}
}

func TestSubmitResultRejectsContentMismatch(t *testing.T) {
	n := testNode(t)
	injected, err := n.InjectTask("X")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}

	artifact := protocol.NewArtifact(injected.TaskID, n.AgentID(), []byte("claimed"), "text/plain")
	_, err = n.SubmitResult(&protocol.ResultSubmissionParams{
		TaskID:   injected.TaskID,
		AgentID:  n.AgentID(),
		Artifact: *artifact,
	}, []byte("different bytes"))
	if !protocol.IsKind(err, protocol.KindResultRejected) {
		t.Fatalf("expected ResultRejected, got %v", err)
	}
}

func TestTaskGossipReplication(t *testing.T) {
	a := testNode(t)
	b := testNode(t)
	connectNodes(t, a, b)

	injected, err := a.InjectTask("replicate me")
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if _, ok := b.replica.Tasks.Get(injected.TaskID); !ok {
		t.Fatal("task announcement did not reach b")
	}
}

// Scenario: partition and heal. Tasks injected on two disconnected nodes
// appear on both after one anti-entropy round, each exactly once.
func TestPartitionHealUnion(t *testing.T) {
	a := testNode(t)
	b := testNode(t)

	// Partitioned: inject on both sides.
	ta, err := a.InjectTask("from a")
	if err != nil {
		t.Fatalf("inject a: %v", err)
	}
	tb, err := b.InjectTask("from b")
	if err != nil {
		t.Fatalf("inject b: %v", err)
	}

	// Heal and run one explicit anti-entropy round each way.
	connectNodes(t, a, b)
	a.fullExchange()
	b.fullExchange()
	time.Sleep(200 * time.Millisecond)

	for _, n := range []*Node{a, b} {
		if _, ok := n.replica.Tasks.Get(ta.TaskID); !ok {
			t.Fatalf("task from a missing on %s", n.AgentID())
		}
		if _, ok := n.replica.Tasks.Get(tb.TaskID); !ok {
			t.Fatalf("task from b missing on %s", n.AgentID())
		}
		if n.replica.Tasks.Len() != 2 {
			t.Fatalf("task count = %d on %s, want union of 2", n.replica.Tasks.Len(), n.AgentID())
		}
	}
}

func TestGetTaskNotFound(t *testing.T) {
	n := testNode(t)
	_, err := n.GetTask("nope")
	if !protocol.IsKind(err, protocol.KindTaskNotFound) {
		t.Fatalf("expected TaskNotFound, got %v", err)
	}
}

func TestSwarmLifecycle(t *testing.T) {
	n := testNode(t)

	swarms := n.ListSwarms()
	if len(swarms) != 1 || swarms[0].SwarmID != protocol.DefaultSwarmID {
		t.Fatalf("initial swarms = %+v", swarms)
	}

	info, token, err := n.CreateSwarm("research", "private workgroup", "passphrase")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.IsPublic || token == "" {
		t.Fatalf("private swarm = %+v token=%q", info, token)
	}

	// Joining with the right token succeeds; a wrong token is rejected.
	if _, err := n.JoinSwarm(info.SwarmID, token); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := n.JoinSwarm(info.SwarmID, "deadbeef"); !protocol.IsKind(err, protocol.KindInvalidSignature) {
		t.Fatalf("expected bad-token rejection, got %v", err)
	}
	if _, err := n.JoinSwarm(info.SwarmID, ""); err == nil {
		t.Fatal("token required for private swarm")
	}
	if _, err := n.JoinSwarm("ghost", ""); err == nil {
		t.Fatal("unknown swarm should fail")
	}
}

func TestNetworkStatsShape(t *testing.T) {
	n := testNode(t)
	stats := n.GetNetworkStats()
	if stats.BranchingFactor != protocol.DefaultBranchingFactor {
		t.Fatalf("branching factor = %d", stats.BranchingFactor)
	}
	if stats.CurrentEpoch != 1 {
		t.Fatalf("epoch = %d", stats.CurrentEpoch)
	}
	if stats.TotalAgents < 1 {
		t.Fatalf("total agents = %d", stats.TotalAgents)
	}
}

// Leader keep-alives reset the succession monitor across the wire.
func TestKeepaliveFlow(t *testing.T) {
	a := testNode(t)
	b := testNode(t)
	connectNodes(t, a, b)

	// b watches a as its leader.
	b.monitor.Watch(a.AgentID(), nil)

	// a's keep-alive loop runs every 50ms; give it a few intervals.
	time.Sleep(200 * time.Millisecond)

	if b.monitor.HasObservedTimeout(a.AgentID()) {
		t.Fatal("leader should be healthy while keep-alives flow")
	}
}

func TestContentProvideFlow(t *testing.T) {
	a := testNode(t)
	b := testNode(t)
	connectNodes(t, a, b)

	cid, err := a.replica.Content.Put([]byte("shared artifact"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := a.replica.Content.Provide(cid); err != nil {
		t.Fatalf("provide: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	providers, err := b.replica.Content.Providers(cid)
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if len(providers) != 1 || providers[0] != a.AgentID() {
		t.Fatalf("providers on b = %v", providers)
	}
}
