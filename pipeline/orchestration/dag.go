// Package orchestration implements L3: strategy selection between a
// single call, a synthesized pipeline, or a named workflow; the DAG
// executor that runs a workflow's steps to completion; the maker/checker
// risk validator; and the in-process task scheduler.
package orchestration

import (
	"fmt"
	"sync"

	"github.com/aios-systems/aios/core"
)

// NodeStatus is the execution status of one DAG node.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeReady
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
	NodeCancelled
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "PENDING"
	case NodeReady:
		return "READY"
	case NodeRunning:
		return "RUNNING"
	case NodeCompleted:
		return "COMPLETED"
	case NodeFailed:
		return "FAILED"
	case NodeSkipped:
		return "SKIPPED"
	case NodeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// BranchCondition gates whether a node becomes READY once its
// dependencies finish, per the workflow engine's branch semantics.
type BranchCondition int

const (
	// BranchAlways runs the node as soon as dependencies complete,
	// regardless of outcome.
	BranchAlways BranchCondition = iota
	// BranchOnSuccess runs only when every dependency COMPLETED.
	BranchOnSuccess
	// BranchOnFailure runs only when at least one dependency FAILED.
	BranchOnFailure
	// BranchOnCondition runs only when the node's Predicate returns true.
	BranchOnCondition
)

// StepResult is one node's outcome, stored in the workflow's results map
// keyed by node id and consulted by downstream BranchOnCondition
// predicates and `{prev_step}` template substitutions.
type StepResult struct {
	Output  interface{}
	Success bool
	Error   string
}

// Predicate evaluates a BranchOnCondition node against the accumulated
// results of every node that has finished so far.
type Predicate func(results map[string]StepResult) bool

// DAGNode is a single step in a workflow, carrying the step metadata the
// engine needs to actually execute it: an expert hint, a prompt
// template, a timeout, a retry policy, a continue-on-error flag, and a
// branch condition.
type DAGNode struct {
	ID           string
	Dependencies []string
	Dependents   []string
	Status       NodeStatus

	ExpertHint      string
	PromptTemplate  string
	Timeout         int64 // milliseconds; 0 means the node has no timeout of its own and no default is applied
	Retry           RetryPolicy
	ContinueOnError bool
	Branch          BranchCondition
	Predicate       Predicate
	SkipReason      string
}

// DAG is a directed acyclic graph of workflow steps: cycle detection,
// dependents rebuilding, ready-node computation, execution levels, and
// statistics, plus branch-aware ready-node evaluation and the node
// metadata above.
type DAG struct {
	mu    sync.RWMutex
	nodes map[string]*DAGNode
}

// NewDAG builds an empty DAG.
func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*DAGNode)}
}

// AddNode adds or replaces a node. Dependents relationships are rebuilt
// after every call.
func (d *DAG) AddNode(node *DAGNode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if node.Status == 0 {
		node.Status = NodePending
	}
	node.Dependents = []string{}
	d.nodes[node.ID] = node
	d.rebuildDependents()
}

func (d *DAG) rebuildDependents() {
	for _, node := range d.nodes {
		node.Dependents = []string{}
	}
	for nodeID, node := range d.nodes {
		for _, dep := range node.Dependencies {
			if depNode, exists := d.nodes[dep]; exists {
				found := false
				for _, existing := range depNode.Dependents {
					if existing == nodeID {
						found = true
						break
					}
				}
				if !found {
					depNode.Dependents = append(depNode.Dependents, nodeID)
				}
			}
		}
	}
}

// Validate reports a cyclic-DAG or dangling-dependency error.
func (d *DAG) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for nodeID, node := range d.nodes {
		for _, dep := range node.Dependencies {
			if _, exists := d.nodes[dep]; !exists {
				return fmt.Errorf("node %s depends on non-existent node %s", nodeID, dep)
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	for nodeID := range d.nodes {
		if !visited[nodeID] {
			if d.hasCycleDFS(nodeID, visited, recStack) {
				return core.NewCoreError(core.LayerOrchestration, core.KindOrchestration, "cyclic_dag",
					"workflow graph contains a cycle", false, core.ErrCyclicDAG)
			}
		}
	}
	return nil
}

func (d *DAG) hasCycleDFS(nodeID string, visited, recStack map[string]bool) bool {
	visited[nodeID] = true
	recStack[nodeID] = true

	node := d.nodes[nodeID]
	for _, dependent := range node.Dependents {
		if !visited[dependent] {
			if d.hasCycleDFS(dependent, visited, recStack) {
				return true
			}
		} else if recStack[dependent] {
			return true
		}
	}
	recStack[nodeID] = false
	return false
}

// dependenciesSatisfied reports whether every dependency of nodeID is in
// a terminal, non-blocking state (COMPLETED, SKIPPED, FAILED, or
// CANCELLED — FAILED is terminal too, since a BranchOnFailure node needs it to count as
// "satisfied" even though the dependency did not succeed).
func (d *DAG) dependenciesSatisfied(nodeID string) bool {
	node := d.nodes[nodeID]
	for _, dep := range node.Dependencies {
		depNode := d.nodes[dep]
		if depNode == nil {
			continue
		}
		switch depNode.Status {
		case NodeCompleted, NodeSkipped, NodeFailed, NodeCancelled:
		default:
			return false
		}
	}
	return true
}

// anyDependencyFailed reports whether at least one dependency of nodeID
// is FAILED.
func (d *DAG) anyDependencyFailed(nodeID string) bool {
	node := d.nodes[nodeID]
	for _, dep := range node.Dependencies {
		if depNode := d.nodes[dep]; depNode != nil && depNode.Status == NodeFailed {
			return true
		}
	}
	return false
}

// allDependenciesCompleted reports whether every dependency of nodeID
// COMPLETED (the strict BranchOnSuccess gate).
func (d *DAG) allDependenciesCompleted(nodeID string) bool {
	node := d.nodes[nodeID]
	for _, dep := range node.Dependencies {
		depNode := d.nodes[dep]
		if depNode == nil || depNode.Status != NodeCompleted {
			return false
		}
	}
	return true
}

// GetReadyNodes returns every PENDING node whose dependencies are
// satisfied, evaluating and applying each node's branch condition along
// the way: a node whose condition is not met transitions to SKIPPED
// in-place and is not returned as ready.
func (d *DAG) GetReadyNodes(results map[string]StepResult) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ready []string
	for nodeID, node := range d.nodes {
		if node.Status != NodePending || !d.dependenciesSatisfied(nodeID) {
			continue
		}

		switch node.Branch {
		case BranchOnSuccess:
			if !d.allDependenciesCompleted(nodeID) {
				node.Status = NodeSkipped
				node.SkipReason = "on_success: a dependency did not complete"
				d.markDependentsSkipped(nodeID)
				continue
			}
		case BranchOnFailure:
			if !d.anyDependencyFailed(nodeID) {
				node.Status = NodeSkipped
				node.SkipReason = "on_failure: no dependency failed"
				d.markDependentsSkipped(nodeID)
				continue
			}
		case BranchOnCondition:
			if node.Predicate == nil || !node.Predicate(results) {
				node.Status = NodeSkipped
				node.SkipReason = "on_condition: predicate returned false"
				d.markDependentsSkipped(nodeID)
				continue
			}
		}

		ready = append(ready, nodeID)
	}
	return ready
}

func (d *DAG) markDependentsSkipped(nodeID string) {
	node := d.nodes[nodeID]
	for _, dependent := range node.Dependents {
		if depNode := d.nodes[dependent]; depNode != nil && depNode.Status == NodePending {
			depNode.Status = NodeSkipped
			depNode.SkipReason = fmt.Sprintf("dependency %s was skipped", nodeID)
			d.markDependentsSkipped(dependent)
		}
	}
}

// MarkRunning, MarkCompleted, MarkFailed, and MarkCancelled transition a
// node's status. MarkFailed changes only the failed node; its PENDING
// dependents are left for GetReadyNodes to evaluate on the next pass.
func (d *DAG) MarkRunning(nodeID string) { d.setStatus(nodeID, NodeRunning) }

func (d *DAG) MarkCompleted(nodeID string) { d.setStatus(nodeID, NodeCompleted) }

func (d *DAG) MarkCancelled(nodeID string) { d.setStatus(nodeID, NodeCancelled) }

func (d *DAG) MarkFailed(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if node, exists := d.nodes[nodeID]; exists {
		node.Status = NodeFailed
	}
}

func (d *DAG) setStatus(nodeID string, status NodeStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if node, exists := d.nodes[nodeID]; exists {
		node.Status = status
	}
}

// CancelPending transitions every PENDING or node not yet RUNNING to
// CANCELLED, per the engine's cancellation contract.
func (d *DAG) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, node := range d.nodes {
		if node.Status == NodePending || node.Status == NodeReady {
			node.Status = NodeCancelled
		}
	}
}

// descendantsOf returns every node id transitively reachable from id via
// Dependents edges. Caller must hold d.mu.
func (d *DAG) descendantsOf(id string) map[string]bool {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		node := d.nodes[cur]
		if node == nil {
			return
		}
		for _, dep := range node.Dependents {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return seen
}

// CancelUnrelatedPending cancels every PENDING or READY node that is not a
// descendant of any id in failedIDs. A step failure without
// continue_on_error halts the rest of the workflow, except the branches
// wired to react to that specific failure (a BranchOnFailure or
// BranchOnCondition dependent downstream of it), which still get their
// scheduled chance to run via the normal branch-gated ready-node logic.
func (d *DAG) CancelUnrelatedPending(failedIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	protected := map[string]bool{}
	for _, id := range failedIDs {
		for dep := range d.descendantsOf(id) {
			protected[dep] = true
		}
	}
	for id, node := range d.nodes {
		if protected[id] {
			continue
		}
		if node.Status == NodePending || node.Status == NodeReady {
			node.Status = NodeCancelled
		}
	}
}

// IsComplete reports whether every node is in a terminal state.
func (d *DAG) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, node := range d.nodes {
		if node.Status == NodePending || node.Status == NodeRunning || node.Status == NodeReady {
			return false
		}
	}
	return true
}

// HasRunningNodes reports whether any node is currently RUNNING.
func (d *DAG) HasRunningNodes() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, node := range d.nodes {
		if node.Status == NodeRunning {
			return true
		}
	}
	return false
}

// GetNode returns the node registered under id, or nil.
func (d *DAG) GetNode(id string) *DAGNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

// Nodes returns every node id, in no particular order.
func (d *DAG) Nodes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot captures every node's current status and skip reason, the
// unit a checkpoint persists.
type Snapshot struct {
	Statuses    map[string]NodeStatus
	SkipReasons map[string]string
}

// TakeSnapshot captures the DAG's current node statuses.
func (d *DAG) TakeSnapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	statuses := make(map[string]NodeStatus, len(d.nodes))
	reasons := make(map[string]string, len(d.nodes))
	for id, node := range d.nodes {
		statuses[id] = node.Status
		if node.SkipReason != "" {
			reasons[id] = node.SkipReason
		}
	}
	return Snapshot{Statuses: statuses, SkipReasons: reasons}
}

// Restore applies a snapshot to the DAG, per the workflow engine's
// restore contract: any node that was PENDING or RUNNING at snapshot
// time becomes PENDING again so it re-executes idempotently; every other
// status (COMPLETED, FAILED, SKIPPED, CANCELLED) is applied as-is.
func (d *DAG) Restore(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, status := range snap.Statuses {
		node, exists := d.nodes[id]
		if !exists {
			continue
		}
		switch status {
		case NodePending, NodeRunning, NodeReady:
			node.Status = NodePending
		default:
			node.Status = status
		}
		node.SkipReason = snap.SkipReasons[id]
	}
}

// DAGStatistics reports per-DAG shape and progress.
type DAGStatistics struct {
	TotalNodes      int
	PendingNodes    int
	RunningNodes    int
	CompletedNodes  int
	FailedNodes     int
	SkippedNodes    int
	MaxDependencies int
	MaxDependents   int
	MaxParallelism  int
	Depth           int
}

// GetExecutionLevels groups nodes by the wave in which they could run if
// every branch condition always passed, used only for statistics/visualization.
func (d *DAG) GetExecutionLevels() [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	levels := [][]string{}
	processed := make(map[string]bool)
	for {
		var levelNodes []string
		for nodeID, node := range d.nodes {
			if processed[nodeID] {
				continue
			}
			canExecute := true
			for _, dep := range node.Dependencies {
				if !processed[dep] {
					canExecute = false
					break
				}
			}
			if canExecute {
				levelNodes = append(levelNodes, nodeID)
			}
		}
		if len(levelNodes) == 0 {
			break
		}
		for _, nodeID := range levelNodes {
			processed[nodeID] = true
		}
		levels = append(levels, levelNodes)
	}
	return levels
}

// GetStatistics computes DAGStatistics for the current graph.
func (d *DAG) GetStatistics() DAGStatistics {
	d.mu.RLock()
	stats := DAGStatistics{TotalNodes: len(d.nodes)}
	for _, node := range d.nodes {
		switch node.Status {
		case NodePending:
			stats.PendingNodes++
		case NodeRunning:
			stats.RunningNodes++
		case NodeCompleted:
			stats.CompletedNodes++
		case NodeFailed:
			stats.FailedNodes++
		case NodeSkipped:
			stats.SkippedNodes++
		}
		if len(node.Dependencies) > stats.MaxDependencies {
			stats.MaxDependencies = len(node.Dependencies)
		}
		if len(node.Dependents) > stats.MaxDependents {
			stats.MaxDependents = len(node.Dependents)
		}
	}
	d.mu.RUnlock()

	levels := d.GetExecutionLevels()
	for _, level := range levels {
		if len(level) > stats.MaxParallelism {
			stats.MaxParallelism = len(level)
		}
	}
	stats.Depth = len(levels)
	return stats
}
