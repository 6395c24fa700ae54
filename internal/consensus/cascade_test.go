package consensus

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

func cascadePlan(t *testing.T, taskID string, subtasks int) *protocol.Plan {
	t.Helper()
	plan := protocol.NewPlan(taskID, "did:swarm:coordinator", 1)
	for i := 0; i < subtasks; i++ {
		plan.Subtasks = append(plan.Subtasks, protocol.PlanSubtask{
			Index:               i,
			Description:         "slice",
			EstimatedComplexity: 0.3,
		})
	}
	return plan
}

func TestDistributeRoundRobin(t *testing.T) {
	c := NewCascade()
	plan := cascadePlan(t, "root", 3)
	subs := []Subordinate{
		{ID: "did:swarm:e1", Tier: protocol.TierExecutor},
		{ID: "did:swarm:e2", Tier: protocol.TierExecutor},
	}

	assignments, err := c.Distribute("root", plan, subs, 1)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(assignments) != 3 {
		t.Fatalf("assignments = %d", len(assignments))
	}
	want := []protocol.AgentID{"did:swarm:e1", "did:swarm:e2", "did:swarm:e1"}
	for i, a := range assignments {
		if a.Assignee != want[i] {
			t.Fatalf("assignment %d → %s, want %s", i, a.Assignee, want[i])
		}
		if a.RequiresCascade {
			t.Fatal("executor assignments must not cascade")
		}
		if a.Task.ParentTaskID != "root" {
			t.Fatalf("parent = %s", a.Task.ParentTaskID)
		}
	}
}

func TestDistributeCoordinatorCascades(t *testing.T) {
	c := NewCascade()
	plan := cascadePlan(t, "root", 2)
	subs := []Subordinate{
		{ID: "did:swarm:t2a", Tier: protocol.Tier2},
		{ID: "did:swarm:t2b", Tier: protocol.Tier2},
	}
	assignments, err := c.Distribute("root", plan, subs, 1)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	for _, a := range assignments {
		if !a.RequiresCascade {
			t.Fatal("coordinator assignments must re-enter the rfp")
		}
	}
}

func TestDistributeValidations(t *testing.T) {
	c := NewCascade()
	if _, err := c.Distribute("root", cascadePlan(t, "root", 2), nil, 1); err == nil {
		t.Fatal("no subordinates should fail")
	}
	empty := protocol.NewPlan("root", "did:swarm:x", 1)
	subs := []Subordinate{{ID: "did:swarm:e1", Tier: protocol.TierExecutor}}
	if _, err := c.Distribute("root", empty, subs, 1); err == nil {
		t.Fatal("empty plan should fail")
	}
}

func TestCompletionRollUp(t *testing.T) {
	c := NewCascade()
	plan := cascadePlan(t, "root", 3)
	subs := []Subordinate{
		{ID: "did:swarm:e1", Tier: protocol.TierExecutor},
		{ID: "did:swarm:e2", Tier: protocol.TierExecutor},
	}
	assignments, err := c.Distribute("root", plan, subs, 1)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	for i, a := range assignments {
		complete, err := c.RecordAcceptance(a.Task.TaskID, protocol.ComputeCID([]byte{byte(i)}))
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		if (i == len(assignments)-1) != complete {
			t.Fatalf("completion at %d = %v", i, complete)
		}
	}

	hashes, ok := c.ChildHashes("root")
	if !ok || len(hashes) != 3 {
		t.Fatalf("child hashes = %v ok=%v", hashes, ok)
	}
	// Index order is preserved.
	for i, h := range hashes {
		if h != protocol.ComputeCID([]byte{byte(i)}) {
			t.Fatalf("hash %d out of order", i)
		}
	}
}

// Scenario: an executor keeps returning artifacts whose proofs fail. The
// subtask retries up to three reassignments, then fails for good.
func TestRejectionBudget(t *testing.T) {
	c := NewCascade()
	plan := cascadePlan(t, "root", 1)
	subs := []Subordinate{{ID: "did:swarm:e1", Tier: protocol.TierExecutor}}
	assignments, err := c.Distribute("root", plan, subs, 1)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	subtaskID := assignments[0].Task.TaskID

	for attempt := 1; attempt <= MaxReassignments; attempt++ {
		left, err := c.RecordRejection(subtaskID)
		if err != nil {
			t.Fatalf("rejection %d: %v", attempt, err)
		}
		if left == 0 {
			t.Fatalf("budget exhausted early at attempt %d", attempt)
		}
		if err := c.Reassign(subtaskID, "did:swarm:e2"); err != nil {
			t.Fatalf("reassign %d: %v", attempt, err)
		}
	}

	// Fourth rejection: the subtask fails.
	left, err := c.RecordRejection(subtaskID)
	if err != nil {
		t.Fatalf("final rejection: %v", err)
	}
	if left != 0 {
		t.Fatalf("retries left = %d, want 0", left)
	}
	if !c.Failed(subtaskID) {
		t.Fatal("subtask should be failed")
	}
	if err := c.Reassign(subtaskID, "did:swarm:e3"); !protocol.IsKind(err, protocol.KindResultRejected) {
		t.Fatalf("expected ResultRejected on reassigning a failed subtask, got %v", err)
	}
}

func TestPrimeOrchestrator(t *testing.T) {
	plan := cascadePlan(t, "root", 1)
	if PrimeOrchestrator(plan) != "did:swarm:coordinator" {
		t.Fatal("prime orchestrator is the winning proposer")
	}
}
