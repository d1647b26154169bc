package pipelinecore

import (
	"sync"
	"time"
)

// WorkflowSnapshot is the serializable projection of a WorkflowRecord. It is
// what gets marshaled into a Checkpoint's opaque snapshot text (C7). The
// collection fields carry no omitempty and the record fills them with
// non-nil values, so empty collections round-trip as empty arrays/objects
// rather than disappearing on marshal, per spec.md
// §4.7's "preserve empty collections as empty" requirement.
type WorkflowSnapshot struct {
	WorkflowID        string         `json:"workflow_id"`
	WorkflowType      string         `json:"workflow_type"`
	Input             string         `json:"input"`
	StartTime         time.Time      `json:"start_time"`
	CurrentStageIndex int            `json:"current_stage_index"`
	CurrentAgentID    string         `json:"current_agent_id"`
	CompletedAgents   []string       `json:"completed_agents"`
	StageResults      map[string]string `json:"stage_results"`
	Messages          []Message      `json:"messages"`
	PausedAt          *time.Time     `json:"paused_at,omitempty"`
	PauseReason       string         `json:"pause_reason,omitempty"`
	Paused            bool           `json:"paused"`
	State             WorkflowState  `json:"state"`
	FinalResult       string         `json:"final_result,omitempty"`
	Metadata          map[string]any `json:"metadata"`
}

// WorkflowRecord is the live, mutable state of one workflow execution. It is
// mutated only by the Pipeline Executor (C3) and is the in-memory twin of a
// checkpoint snapshot; grounded on the teacher's ExecutionState, generalized
// from per-path variable maps (branching, not part of this spec) to the
// single linear message log and stage-result map spec.md §3 describes.
type WorkflowRecord struct {
	mu sync.RWMutex

	id                string
	workflowType      string
	input             string
	startTime         time.Time
	currentStageIndex int
	currentAgentID    string
	completedAgents   []string
	stageResults      map[string]string
	messages          []Message
	pausedAt          *time.Time
	pauseReason       string
	paused            bool
	state             WorkflowState
	finalResult       string
	metadata          map[string]any
}

// NewWorkflowRecord creates a fresh record in the Queued state.
func NewWorkflowRecord(id, workflowType, input string) *WorkflowRecord {
	return &WorkflowRecord{
		id:              id,
		workflowType:    workflowType,
		input:           input,
		startTime:       time.Now().UTC(),
		completedAgents: []string{},
		stageResults:    map[string]string{},
		messages:        []Message{},
		state:           StateQueued,
		metadata:        map[string]any{},
	}
}

func (r *WorkflowRecord) ID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

func (r *WorkflowRecord) Type() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workflowType
}

func (r *WorkflowRecord) Input() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.input
}

func (r *WorkflowRecord) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

func (r *WorkflowRecord) State() WorkflowState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *WorkflowRecord) SetState(s WorkflowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *WorkflowRecord) StageIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentStageIndex
}

func (r *WorkflowRecord) SetStageIndex(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentStageIndex = i
}

func (r *WorkflowRecord) CurrentAgentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentAgentID
}

func (r *WorkflowRecord) SetCurrentAgentID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAgentID = id
}

// CompletedAgents returns a copy of the completed-agents list, in pipeline
// order, satisfying invariant 1 (distinct, ⊆ pipeline stages).
func (r *WorkflowRecord) CompletedAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.completedAgents))
	copy(out, r.completedAgents)
	return out
}

// AppendCompletedAgent appends an agent id if not already present.
func (r *WorkflowRecord) AppendCompletedAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.completedAgents {
		if id == agentID {
			return
		}
	}
	r.completedAgents = append(r.completedAgents, agentID)
	r.currentStageIndex = len(r.completedAgents)
}

func (r *WorkflowRecord) StageResult(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.stageResults[agentID]
	return v, ok
}

func (r *WorkflowRecord) SetStageResult(agentID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageResults[agentID] = text
}

func (r *WorkflowRecord) StageResults() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.stageResults))
	for k, v := range r.stageResults {
		out[k] = v
	}
	return out
}

func (r *WorkflowRecord) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyMessages(r.messages)
}

func (r *WorkflowRecord) AppendMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *WorkflowRecord) SetPaused(paused bool, reason string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
	r.pauseReason = reason
	if paused {
		atCopy := at
		r.pausedAt = &atCopy
	} else {
		r.pausedAt = nil
		r.pauseReason = ""
	}
}

func (r *WorkflowRecord) IsPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

func (r *WorkflowRecord) SetFinalResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalResult = result
}

func (r *WorkflowRecord) FinalResult() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalResult
}

func (r *WorkflowRecord) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

func (r *WorkflowRecord) Metadata() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}

// ToSnapshot takes a consistent snapshot of the record for checkpointing.
func (r *WorkflowRecord) ToSnapshot() *WorkflowSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	completed := make([]string, len(r.completedAgents))
	copy(completed, r.completedAgents)

	results := make(map[string]string, len(r.stageResults))
	for k, v := range r.stageResults {
		results[k] = v
	}

	metadata := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		metadata[k] = v
	}

	var pausedAt *time.Time
	if r.pausedAt != nil {
		t := *r.pausedAt
		pausedAt = &t
	}

	return &WorkflowSnapshot{
		WorkflowID:        r.id,
		WorkflowType:      r.workflowType,
		Input:             r.input,
		StartTime:         r.startTime,
		CurrentStageIndex: r.currentStageIndex,
		CurrentAgentID:    r.currentAgentID,
		CompletedAgents:   completed,
		StageResults:      results,
		Messages:          copyMessages(r.messages),
		PausedAt:          pausedAt,
		PauseReason:       r.pauseReason,
		Paused:            r.paused,
		State:             r.state,
		FinalResult:       r.finalResult,
		Metadata:          metadata,
	}
}

// RestoreWorkflowRecord rebuilds a WorkflowRecord from a snapshot, e.g. on resume.
func RestoreWorkflowRecord(s *WorkflowSnapshot) *WorkflowRecord {
	r := &WorkflowRecord{
		id:                s.WorkflowID,
		workflowType:      s.WorkflowType,
		input:             s.Input,
		startTime:         s.StartTime,
		currentStageIndex: s.CurrentStageIndex,
		currentAgentID:    s.CurrentAgentID,
		completedAgents:   append([]string{}, s.CompletedAgents...),
		stageResults:      map[string]string{},
		messages:          copyMessages(s.Messages),
		pauseReason:       s.PauseReason,
		paused:            s.Paused,
		state:             s.State,
		finalResult:       s.FinalResult,
		metadata:          map[string]any{},
	}
	for k, v := range s.StageResults {
		r.stageResults[k] = v
	}
	for k, v := range s.Metadata {
		r.metadata[k] = v
	}
	if s.PausedAt != nil {
		t := *s.PausedAt
		r.pausedAt = &t
	}
	return r
}
