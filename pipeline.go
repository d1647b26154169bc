package pipelinecore

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StageDefinition describes one stage of a pipeline definition loaded from
// YAML. Grounded on the teacher's Step, generalized from a branching graph
// (Next []*Edge, Each, Catch) to the single ordered list spec.md §3 requires:
// "There is no cyclic or branching graph."
type StageDefinition struct {
	AgentID     string `json:"agent_id" yaml:"agent_id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// IsClarificationStage marks a stage eligible for the
	// clarify-early-exit policy (spec.md §4.3, §9 open question 1). NewPipeline
	// sets it to true for a stage whose AgentID is "Clarify"
	// (case-insensitive), whatever the definition says; any other stage is
	// eligible only if the definition sets it.
	IsClarificationStage bool `json:"is_clarification_stage,omitempty" yaml:"is_clarification_stage,omitempty"`
}

// PipelineOptions configures a Pipeline, loaded from YAML via LoadPipelineFile/LoadPipelineString.
type PipelineOptions struct {
	Type        string             `json:"type" yaml:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []*StageDefinition `json:"stages" yaml:"stages"`
}

// Pipeline is an ordered, non-branching list of stages, matching spec.md
// §3's "workflow is an ordered list of stage records" data model.
type Pipeline struct {
	workflowType string
	description  string
	stages       []*StageDefinition
	byAgentID    map[string]*StageDefinition
}

// NewPipeline validates opts and builds a Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Type == "" {
		return nil, fmt.Errorf("pipeline type required")
	}
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("pipeline must have at least one stage")
	}

	byAgentID := make(map[string]*StageDefinition, len(opts.Stages))
	for _, stage := range opts.Stages {
		if stage.AgentID == "" {
			return nil, fmt.Errorf("stage agent_id required")
		}
		if _, dup := byAgentID[stage.AgentID]; dup {
			return nil, fmt.Errorf("duplicate stage agent_id %q", stage.AgentID)
		}
		if strings.EqualFold(stage.AgentID, "clarify") {
			stage.IsClarificationStage = true
		}
		byAgentID[stage.AgentID] = stage
	}

	return &Pipeline{
		workflowType: opts.Type,
		description:  opts.Description,
		stages:       opts.Stages,
		byAgentID:    byAgentID,
	}, nil
}

// Type returns the pipeline's workflow type.
func (p *Pipeline) Type() string { return p.workflowType }

// Description returns the pipeline description.
func (p *Pipeline) Description() string { return p.description }

// Stages returns the ordered stage list.
func (p *Pipeline) Stages() []*StageDefinition { return p.stages }

// StageAt returns the stage definition at index i, or ok=false if out of range.
func (p *Pipeline) StageAt(i int) (*StageDefinition, bool) {
	if i < 0 || i >= len(p.stages) {
		return nil, false
	}
	return p.stages[i], true
}

// GetStage returns a stage definition by agent id.
func (p *Pipeline) GetStage(agentID string) (*StageDefinition, bool) {
	stage, ok := p.byAgentID[agentID]
	return stage, ok
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// LoadPipelineFile loads a pipeline definition from a YAML file.
func LoadPipelineFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return LoadPipelineString(string(data))
}

// LoadPipelineString loads a pipeline definition from a YAML string.
func LoadPipelineString(data string) (*Pipeline, error) {
	var opts PipelineOptions
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline definition: %w", err)
	}
	return NewPipeline(opts)
}
