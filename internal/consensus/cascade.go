package consensus

import (
	"sync"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// MaxReassignments is how many times a rejected subtask is reassigned
// before it is declared failed.
const MaxReassignments = 3

// SubtaskAssignment hands one subtask of a winning plan to a subordinate.
type SubtaskAssignment struct {
	Task            protocol.Task
	Assignee        protocol.AgentID
	ParentTaskID    string
	PlanID          string
	AssigneeTier    protocol.Tier
	RequiresCascade bool
}

// CascadeStatus summarizes cascade progress for a root task.
type CascadeStatus struct {
	RootTaskID        string
	ActiveLevels      int
	TotalSubtasks     int
	CompletedSubtasks int
	FailedSubtasks    int
}

// cascadeLevel tracks subtask distribution for one parent task.
type cascadeLevel struct {
	parentTaskID string
	planID       string
	assignments  []SubtaskAssignment
}

// subtaskState tracks one distributed subtask through verification.
type subtaskState struct {
	completed    bool
	failed       bool
	retries      int
	assignee     protocol.AgentID
	acceptedHash string // merkle hash of the accepted artifact
}

// Cascade manages recursive decomposition: the winning plan's subtasks flow
// down to subordinates, results flow back up, and rejected results are
// reassigned up to MaxReassignments times.
type Cascade struct {
	mu              sync.Mutex
	levels          map[string]*cascadeLevel
	subtaskToParent map[string]string
	subtasks        map[string]*subtaskState
	rootTaskID      string
}

// NewCascade creates an empty cascade tracker.
func NewCascade() *Cascade {
	return &Cascade{
		levels:          make(map[string]*cascadeLevel),
		subtaskToParent: make(map[string]string),
		subtasks:        make(map[string]*subtaskState),
	}
}

// PrimeOrchestrator returns the winning plan's proposer, who owns the root
// of the result DAG for that task.
func PrimeOrchestrator(plan *protocol.Plan) protocol.AgentID {
	return plan.Proposer
}

// Subordinate is a candidate assignee for cascade distribution.
type Subordinate struct {
	ID   protocol.AgentID
	Tier protocol.Tier
}

// Distribute assigns each subtask of the winning plan to one subordinate in
// round-robin order and records the level for completion tracking. A
// subordinate that is itself a coordinator receives RequiresCascade so it
// re-enters the RFP cycle for its slice.
func (c *Cascade) Distribute(parentTaskID string, plan *protocol.Plan, subordinates []Subordinate, epoch uint64) ([]SubtaskAssignment, error) {
	if len(subordinates) == 0 {
		return nil, protocol.NewError(protocol.KindPeerUnreachable, "no subordinates for %s", parentTaskID)
	}
	if len(plan.Subtasks) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidParams, "plan %s has no subtasks", plan.PlanID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rootTaskID == "" {
		c.rootTaskID = parentTaskID
	}

	assignments := make([]SubtaskAssignment, 0, len(plan.Subtasks))
	for idx, planSubtask := range plan.Subtasks {
		sub := subordinates[idx%len(subordinates)]

		task := protocol.NewTask(planSubtask.Description, sub.Tier.Level, epoch)
		task.ParentTaskID = parentTaskID
		task.AssignedTo = sub.ID

		assignment := SubtaskAssignment{
			Task:            *task,
			Assignee:        sub.ID,
			ParentTaskID:    parentTaskID,
			PlanID:          plan.PlanID,
			AssigneeTier:    sub.Tier,
			RequiresCascade: !sub.Tier.Executor,
		}
		c.subtaskToParent[task.TaskID] = parentTaskID
		c.subtasks[task.TaskID] = &subtaskState{assignee: sub.ID}
		assignments = append(assignments, assignment)
	}

	c.levels[parentTaskID] = &cascadeLevel{
		parentTaskID: parentTaskID,
		planID:       plan.PlanID,
		assignments:  assignments,
	}
	return assignments, nil
}

// RecordAcceptance marks a subtask's artifact as verified. Returns true
// when every subtask of the parent is complete, meaning the parent hash can
// be computed.
func (c *Cascade) RecordAcceptance(subtaskID, merkleHash string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.subtasks[subtaskID]
	if !ok {
		return false, protocol.NewError(protocol.KindTaskNotFound, "subtask %s", subtaskID)
	}
	st.completed = true
	st.acceptedHash = merkleHash

	parentID := c.subtaskToParent[subtaskID]
	return c.parentCompleteLocked(parentID), nil
}

// RecordRejection marks a verification failure. Returns the retry count
// remaining; at zero the subtask is failed for good.
func (c *Cascade) RecordRejection(subtaskID string) (retriesLeft int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.subtasks[subtaskID]
	if !ok {
		return 0, protocol.NewError(protocol.KindTaskNotFound, "subtask %s", subtaskID)
	}
	st.retries++
	if st.retries > MaxReassignments {
		st.failed = true
		return 0, nil
	}
	return MaxReassignments - st.retries + 1, nil
}

// Reassign moves a rejected subtask to a new assignee.
func (c *Cascade) Reassign(subtaskID string, newAssignee protocol.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.subtasks[subtaskID]
	if !ok {
		return protocol.NewError(protocol.KindTaskNotFound, "subtask %s", subtaskID)
	}
	if st.failed {
		return protocol.NewError(protocol.KindResultRejected, "subtask %s exhausted reassignments", subtaskID)
	}
	st.assignee = newAssignee
	return nil
}

// ChildHashes returns the accepted Merkle hashes of a parent's subtasks in
// assignment (subtask index) order. Only valid once the parent is complete.
func (c *Cascade) ChildHashes(parentTaskID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.levels[parentTaskID]
	if !ok || !c.parentCompleteLocked(parentTaskID) {
		return nil, false
	}
	hashes := make([]string, 0, len(level.assignments))
	for _, a := range level.assignments {
		hashes = append(hashes, c.subtasks[a.Task.TaskID].acceptedHash)
	}
	return hashes, true
}

// Failed reports whether a subtask has exhausted its reassignment budget.
func (c *Cascade) Failed(subtaskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.subtasks[subtaskID]
	return ok && st.failed
}

// ParentOf returns the parent task of a subtask.
func (c *Cascade) ParentOf(subtaskID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.subtaskToParent[subtaskID]
	return parent, ok
}

// Assignee returns the current assignee of a subtask.
func (c *Cascade) Assignee(subtaskID string) (protocol.AgentID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.subtasks[subtaskID]
	if !ok {
		return "", false
	}
	return st.assignee, true
}

// Status summarizes the cascade.
func (c *Cascade) Status() CascadeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := CascadeStatus{
		RootTaskID:   c.rootTaskID,
		ActiveLevels: len(c.levels),
	}
	for _, st := range c.subtasks {
		status.TotalSubtasks++
		if st.completed {
			status.CompletedSubtasks++
		}
		if st.failed {
			status.FailedSubtasks++
		}
	}
	return status
}

func (c *Cascade) parentCompleteLocked(parentTaskID string) bool {
	level, ok := c.levels[parentTaskID]
	if !ok {
		return false
	}
	for _, a := range level.assignments {
		st := c.subtasks[a.Task.TaskID]
		if st == nil || !st.completed {
			return false
		}
	}
	return true
}
