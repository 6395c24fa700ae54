package state

import (
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// TaskRegistry is the replicated task set. Membership is an OR-Set over task
// IDs; task bodies live in a guarded map and merge by status precedence so
// every replica converges on the same record. Terminal states are sticky:
// once a replica holds a terminal status for a task, no later merge or local
// update may move it out.
type TaskRegistry struct {
	mu    sync.RWMutex
	set   *OrSet[string]
	tasks map[string]*protocol.Task
	// terminalAt records when a task reached a terminal status, for the
	// retention sweep.
	terminalAt map[string]uint64 // task_id -> epoch at terminal transition
}

// NewTaskRegistry creates an empty registry owned by nodeID.
func NewTaskRegistry(nodeID string) *TaskRegistry {
	return &TaskRegistry{
		set:        NewOrSet[string](nodeID),
		tasks:      make(map[string]*protocol.Task),
		terminalAt: make(map[string]uint64),
	}
}

// Put inserts or updates a task. Returns a protocol error when the update
// would move a task out of a terminal state.
func (r *TaskRegistry) Put(task *protocol.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(task)
}

func (r *TaskRegistry) putLocked(task *protocol.Task) error {
	existing, ok := r.tasks[task.TaskID]
	if ok && existing.Status.Terminal() && existing.Status != task.Status {
		return protocol.NewError(protocol.KindInvalidRequest,
			"task %s is terminal (%s); cannot transition to %s", task.TaskID, existing.Status, task.Status)
	}
	if !ok {
		r.set.Add(task.TaskID)
	}
	clone := *task
	r.tasks[task.TaskID] = &clone
	if clone.Status.Terminal() {
		if _, seen := r.terminalAt[task.TaskID]; !seen {
			r.terminalAt[task.TaskID] = clone.Epoch
		}
	}
	return nil
}

// SetStatus transitions a task's status, enforcing terminal stickiness.
func (r *TaskRegistry) SetStatus(taskID string, status protocol.TaskStatus, epoch uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok || !r.set.Contains(taskID) {
		return protocol.NewError(protocol.KindTaskNotFound, "task %s", taskID)
	}
	if task.Status.Terminal() && task.Status != status {
		return protocol.NewError(protocol.KindInvalidRequest,
			"task %s is terminal (%s); cannot transition to %s", taskID, task.Status, status)
	}
	task.Status = status
	if status.Terminal() {
		if _, seen := r.terminalAt[taskID]; !seen {
			r.terminalAt[taskID] = epoch
		}
	}
	return nil
}

// Get returns a copy of a task.
func (r *TaskRegistry) Get(taskID string) (*protocol.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok || !r.set.Contains(taskID) {
		return nil, false
	}
	clone := *task
	return &clone, true
}

// Pending returns copies of every non-terminal task.
func (r *TaskRegistry) Pending() []*protocol.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*protocol.Task
	for _, id := range r.set.Elements() {
		task := r.tasks[id]
		if task == nil || task.Status.Terminal() {
			continue
		}
		clone := *task
		out = append(out, &clone)
	}
	return out
}

// Len returns the number of present tasks.
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Len()
}

// ActiveCount returns the number of non-terminal tasks.
func (r *TaskRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, id := range r.set.Elements() {
		if task := r.tasks[id]; task != nil && !task.Status.Terminal() {
			n++
		}
	}
	return n
}

// TaskRegistrySnapshot is the anti-entropy wire form of a task registry.
type TaskRegistrySnapshot struct {
	Set   OrSetSnapshot[string]     `json:"set"`
	Tasks map[string]*protocol.Task `json:"tasks"`
}

// Snapshot captures the registry for a state exchange.
func (r *TaskRegistry) Snapshot() TaskRegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := TaskRegistrySnapshot{
		Set:   r.set.Snapshot(),
		Tasks: make(map[string]*protocol.Task, len(r.tasks)),
	}
	for id, task := range r.tasks {
		clone := *task
		snap.Tasks[id] = &clone
	}
	return snap
}

// Merge applies a remote snapshot. Membership merges as an OR-Set; bodies
// merge by status rank so all replicas settle on the most advanced record,
// and at most one terminal status ever wins (the first observed locally).
func (r *TaskRegistry) Merge(snap TaskRegistrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.ApplySnapshot(snap.Set)
	for id, remote := range snap.Tasks {
		local, ok := r.tasks[id]
		if !ok {
			clone := *remote
			r.tasks[id] = &clone
			if clone.Status.Terminal() {
				r.terminalAt[id] = clone.Epoch
			}
			continue
		}
		if local.Status.Terminal() {
			continue // sticky
		}
		if remote.Status.Rank() > local.Status.Rank() ||
			(remote.Status.Rank() == local.Status.Rank() && remote.WinningPlanID != "" && local.WinningPlanID == "") {
			clone := *remote
			r.tasks[id] = &clone
			if clone.Status.Terminal() {
				if _, seen := r.terminalAt[id]; !seen {
					r.terminalAt[id] = clone.Epoch
				}
			}
		}
	}
}

// Sweep removes tasks that reached a terminal state at least retention
// epochs ago. Returns the number of tasks removed.
func (r *TaskRegistry) Sweep(currentEpoch, retention uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, at := range r.terminalAt {
		if currentEpoch < at+retention {
			continue
		}
		r.set.Remove(id)
		r.set.Compact(func(v string) bool { return v == id })
		delete(r.tasks, id)
		delete(r.terminalAt, id)
		removed++
	}
	return removed
}

// AgentRecord is one agent registry entry: the profile plus its current
// score and tier placement.
type AgentRecord struct {
	Profile  protocol.AgentProfile `json:"profile"`
	Score    protocol.NodeScore    `json:"score"`
	Tier     protocol.Tier         `json:"tier"`
	ParentID protocol.AgentID      `json:"parent_id,omitempty"`
	LastSeen time.Time             `json:"last_seen"`
}

// AgentRegistry is the replicated agent set, an OR-Set over DIDs with
// last-writer-wins bodies keyed by LastSeen.
type AgentRegistry struct {
	mu     sync.RWMutex
	set    *OrSet[string]
	agents map[string]*AgentRecord
}

// NewAgentRegistry creates an empty agent registry owned by nodeID.
func NewAgentRegistry(nodeID string) *AgentRegistry {
	return &AgentRegistry{
		set:    NewOrSet[string](nodeID),
		agents: make(map[string]*AgentRecord),
	}
}

// Put inserts or updates an agent record.
func (r *AgentRegistry) Put(rec AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := string(rec.Profile.AgentID)
	if _, ok := r.agents[id]; !ok {
		r.set.Add(id)
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now().UTC()
	}
	clone := rec
	r.agents[id] = &clone
}

// Remove drops an agent from the registry.
func (r *AgentRegistry) Remove(agentID protocol.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.Remove(string(agentID))
}

// Get returns a copy of an agent record.
func (r *AgentRegistry) Get(agentID protocol.AgentID) (*AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[string(agentID)]
	if !ok || !r.set.Contains(string(agentID)) {
		return nil, false
	}
	clone := *rec
	return &clone, true
}

// All returns copies of every present agent record.
func (r *AgentRegistry) All() []AgentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AgentRecord
	for _, id := range r.set.Elements() {
		if rec := r.agents[id]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// Len returns the number of present agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Len()
}

// Subordinates returns the DIDs whose parent is the given agent.
func (r *AgentRegistry) Subordinates(parent protocol.AgentID) []protocol.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []protocol.AgentID
	for _, id := range r.set.Elements() {
		if rec := r.agents[id]; rec != nil && rec.ParentID == parent {
			out = append(out, rec.Profile.AgentID)
		}
	}
	return out
}

// AgentRegistrySnapshot is the anti-entropy wire form of an agent registry.
type AgentRegistrySnapshot struct {
	Set    OrSetSnapshot[string]   `json:"set"`
	Agents map[string]*AgentRecord `json:"agents"`
}

// Snapshot captures the registry for a state exchange.
func (r *AgentRegistry) Snapshot() AgentRegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := AgentRegistrySnapshot{
		Set:    r.set.Snapshot(),
		Agents: make(map[string]*AgentRecord, len(r.agents)),
	}
	for id, rec := range r.agents {
		clone := *rec
		snap.Agents[id] = &clone
	}
	return snap
}

// Merge applies a remote snapshot; bodies resolve last-writer-wins on
// LastSeen.
func (r *AgentRegistry) Merge(snap AgentRegistrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.ApplySnapshot(snap.Set)
	for id, remote := range snap.Agents {
		local, ok := r.agents[id]
		if !ok || remote.LastSeen.After(local.LastSeen) {
			clone := *remote
			r.agents[id] = &clone
		}
	}
}

// EpochRegister is a last-writer-wins register for epoch metadata: the entry
// with the highest epoch number wins; equal numbers resolve on StartedAt.
type EpochRegister struct {
	mu      sync.RWMutex
	current protocol.EpochInfo
}

// NewEpochRegister creates a register holding epoch 0.
func NewEpochRegister() *EpochRegister {
	return &EpochRegister{}
}

// Set writes epoch info; stale writes (lower epoch, or same epoch with an
// earlier start) are ignored. Reports whether the write took effect.
func (e *EpochRegister) Set(info protocol.EpochInfo) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info.EpochNumber < e.current.EpochNumber {
		return false
	}
	if info.EpochNumber == e.current.EpochNumber && !info.StartedAt.After(e.current.StartedAt) {
		return false
	}
	e.current = info
	return true
}

// Current returns the registered epoch info.
func (e *EpochRegister) Current() protocol.EpochInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// CurrentEpoch returns the registered epoch number.
func (e *EpochRegister) CurrentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.EpochNumber
}
