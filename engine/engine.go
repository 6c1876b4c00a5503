package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/evalflow/types"
)

// Variant selects which graph the engine runs.
type Variant string

const (
	// VariantAutomated runs to completion without pausing.
	VariantAutomated Variant = "automated"
	// VariantInterruptible pauses for rubric review and human evaluation.
	VariantInterruptible Variant = "interruptible"
)

// SelectVariant returns VariantAutomated only when both human stages are skipped.
func SelectVariant(skipReview, skipEval bool) Variant {
	if skipReview && skipEval {
		return VariantAutomated
	}
	return VariantInterruptible
}

// Config is passed with every invoke and resume call.
type Config struct {
	ThreadID   string  `json:"thread_id"`
	ModelName  string  `json:"model_name"`
	Provider   string  `json:"provider,omitempty"`
	SkipReview bool    `json:"skip_review"`
	SkipEval   bool    `json:"skip_eval"`
	Variant    Variant `json:"variant"`
}

// State is the initial graph input built from one input/output pair.
type State struct {
	GoldenSetID   uint   `json:"golden_set_id"`
	ProjectID     string `json:"project_id"`
	InputPosition int    `json:"input_position"`
	UserInput     string `json:"user_input"`
	CopilotOutput string `json:"copilot_output"`
}

// CommandType names the human step a resume command answers.
type CommandType string

const (
	CommandHumanReview     CommandType = "human_review"
	CommandHumanEvaluation CommandType = "human_evaluation"
)

// Command resumes a paused thread.
type Command struct {
	Type   CommandType `json:"type"`
	Resume any         `json:"resume"`
}

// ReviewDecision is the resume payload of a rubric review.
type ReviewDecision struct {
	Approved   bool              `json:"approved"`
	Rubric     []types.Criterion `json:"rubric"`
	Feedback   string            `json:"feedback,omitempty"`
	ReviewerID string            `json:"reviewer_id,omitempty"`
}

// EvaluationDecision is the resume payload of a human evaluation.
type EvaluationDecision struct {
	Evaluation        types.Evaluation `json:"evaluation"`
	OverallAssessment string           `json:"overall_assessment,omitempty"`
}

// Interrupt is the pause signal of a result. Value is engine-defined.
type Interrupt struct {
	Value json.RawMessage `json:"value"`
}

// Result is returned by Invoke and Resume. A nil Interrupt means the run ended.
type Result struct {
	Values    json.RawMessage `json:"values,omitempty"`
	Interrupt *Interrupt      `json:"interrupt,omitempty"`
}

// Paused reports whether the engine returned a pause signal.
func (r *Result) Paused() bool {
	return r != nil && r.Interrupt != nil
}

// Values are the graph state keys the orchestration layer reads.
type Values struct {
	DraftRubric     []types.Criterion `json:"draft_rubric,omitempty"`
	FinalRubric     []types.Criterion `json:"final_rubric,omitempty"`
	AgentEvaluation *types.Evaluation `json:"agent_evaluation,omitempty"`
	HumanEvaluation *types.Evaluation `json:"human_evaluation,omitempty"`
	FinalReport     *types.Report     `json:"final_report,omitempty"`
}

// DecodeValues parses the graph state. Unknown keys are ignored.
func (r *Result) DecodeValues() (*Values, error) {
	var v Values
	if r == nil || len(r.Values) == 0 || string(r.Values) == "null" {
		return &v, nil
	}
	if err := json.Unmarshal(r.Values, &v); err != nil {
		return nil, fmt.Errorf("decode engine values: %w", err)
	}
	return &v, nil
}

// Engine is the external, interruptible evaluation workflow.
type Engine interface {
	Invoke(ctx context.Context, state State, cfg Config) (*Result, error)
	Resume(ctx context.Context, cmd Command, cfg Config) (*Result, error)
}

// Func adapts a pair of functions to Engine.
type Func struct {
	InvokeFn func(ctx context.Context, state State, cfg Config) (*Result, error)
	ResumeFn func(ctx context.Context, cmd Command, cfg Config) (*Result, error)
}

func (f Func) Invoke(ctx context.Context, state State, cfg Config) (*Result, error) {
	if f.InvokeFn == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "engine invoke not configured")
	}
	return f.InvokeFn(ctx, state, cfg)
}

func (f Func) Resume(ctx context.Context, cmd Command, cfg Config) (*Result, error) {
	if f.ResumeFn == nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "engine resume not configured")
	}
	return f.ResumeFn(ctx, cmd, cfg)
}
