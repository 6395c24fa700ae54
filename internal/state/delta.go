package state

import (
	"encoding/json"
	"fmt"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// RetentionEpochs is how many epochs a terminal task is retained before the
// sweep removes it. Anti-entropy deltas never truncate below this window.
const RetentionEpochs = 2

// Replica bundles one node's replicated state: the two registries, the epoch
// register, the Merkle-DAG, and the content store.
type Replica struct {
	Tasks   *TaskRegistry
	Agents  *AgentRegistry
	Epochs  *EpochRegister
	Dag     *MerkleDag
	Content *ContentStore
}

// NewReplica creates the replicated state for a node.
func NewReplica(nodeID string, content *ContentStore) *Replica {
	return &Replica{
		Tasks:   NewTaskRegistry(nodeID),
		Agents:  NewAgentRegistry(nodeID),
		Epochs:  NewEpochRegister(),
		Dag:     NewMerkleDag(),
		Content: content,
	}
}

// Exchange is the anti-entropy payload: both registry snapshots plus the
// epoch register. A full exchange carries everything; delta exchanges are
// bounded by dropping the oldest task bodies first, never below the
// retention window.
type Exchange struct {
	Tasks  TaskRegistrySnapshot  `json:"tasks"`
	Agents AgentRegistrySnapshot `json:"agents"`
	Epoch  protocol.EpochInfo    `json:"epoch"`
}

// Snapshot captures a full-state exchange.
func (r *Replica) Snapshot() *Exchange {
	return &Exchange{
		Tasks:  r.Tasks.Snapshot(),
		Agents: r.Agents.Snapshot(),
		Epoch:  r.Epochs.Current(),
	}
}

// Delta captures a bounded exchange: task bodies older than the retention
// window relative to currentEpoch are omitted (their membership tags still
// travel, keeping the OR-Set convergent).
func (r *Replica) Delta(currentEpoch uint64) *Exchange {
	ex := r.Snapshot()
	for id, task := range ex.Tasks.Tasks {
		if task.Status.Terminal() && currentEpoch >= task.Epoch+RetentionEpochs {
			delete(ex.Tasks.Tasks, id)
		}
	}
	return ex
}

// Apply merges a remote exchange into the local replica.
func (r *Replica) Apply(ex *Exchange) {
	r.Tasks.Merge(ex.Tasks)
	r.Agents.Merge(ex.Agents)
	if ex.Epoch.EpochNumber > 0 {
		r.Epochs.Set(ex.Epoch)
	}
}

// EncodeExchange serializes an exchange for the wire.
func EncodeExchange(ex *Exchange) ([]byte, error) {
	data, err := json.Marshal(ex)
	if err != nil {
		return nil, fmt.Errorf("encode exchange: %w", err)
	}
	return data, nil
}

// DecodeExchange parses an exchange payload.
func DecodeExchange(data []byte) (*Exchange, error) {
	var ex Exchange
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, protocol.NewError(protocol.KindParse, "decode exchange: %v", err)
	}
	return &ex, nil
}

// Sweep runs the retention sweep over the task registry.
func (r *Replica) Sweep(currentEpoch uint64) int {
	return r.Tasks.Sweep(currentEpoch, RetentionEpochs)
}
