package session

import (
	"encoding/json"

	"github.com/BaSui01/evalflow/engine"
	"github.com/BaSui01/evalflow/types"
)

// PauseKind classifies the engine's pause signal.
type PauseKind int

const (
	PauseNone PauseKind = iota
	PauseRubricReview
	PauseHumanEvaluation
	PauseUnrecognized
)

func (k PauseKind) String() string {
	switch k {
	case PauseNone:
		return "none"
	case PauseRubricReview:
		return "rubric_review"
	case PauseHumanEvaluation:
		return "human_evaluation"
	default:
		return "unrecognized"
	}
}

// Pause is the classified pause signal with the rubric it carried.
type Pause struct {
	Kind        PauseKind
	DraftRubric []types.Criterion
	FinalRubric []types.Criterion
	Raw         json.RawMessage
}

// ClassifyPause maps an engine result to a Pause. Payloads that are not a
// JSON object, or that carry neither rubric key, are PauseUnrecognized.
func ClassifyPause(res *engine.Result) Pause {
	if !res.Paused() {
		return Pause{Kind: PauseNone}
	}
	raw := res.Interrupt.Value
	p := Pause{Kind: PauseUnrecognized, Raw: raw}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return p
	}

	if v, ok := present(fields, "final_rubric"); ok {
		if err := json.Unmarshal(v, &p.FinalRubric); err != nil {
			return Pause{Kind: PauseUnrecognized, Raw: raw}
		}
		p.Kind = PauseHumanEvaluation
		if d, ok := present(fields, "draft_rubric"); ok {
			_ = json.Unmarshal(d, &p.DraftRubric)
		}
		return p
	}
	if v, ok := present(fields, "draft_rubric"); ok {
		if err := json.Unmarshal(v, &p.DraftRubric); err != nil {
			return Pause{Kind: PauseUnrecognized, Raw: raw}
		}
		p.Kind = PauseRubricReview
	}
	return p
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	v, ok := fields[key]
	if !ok || len(v) == 0 || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// NextStatus returns the status a session moves to after pause p.
func NextStatus(current types.SessionStatus, p Pause) types.SessionStatus {
	switch p.Kind {
	case PauseNone:
		return types.SessionCompleted
	case PauseRubricReview:
		return types.SessionAwaitingRubricReview
	case PauseHumanEvaluation:
		return types.SessionAwaitingHumanEvaluation
	default:
		return current
	}
}

func statusMessage(status types.SessionStatus, kind PauseKind) string {
	if kind == PauseUnrecognized && !status.IsTerminal() {
		return "engine paused with an unrecognized payload; manual follow-up required"
	}
	switch status {
	case types.SessionCompleted:
		return "evaluation completed"
	case types.SessionAwaitingRubricReview:
		return "paused for rubric review"
	case types.SessionAwaitingHumanEvaluation:
		return "paused for human evaluation"
	case types.SessionFailed:
		return "evaluation failed"
	default:
		return "session is " + string(status)
	}
}
