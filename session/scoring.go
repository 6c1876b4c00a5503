package session

import (
	"fmt"

	"github.com/BaSui01/evalflow/types"
)

// ApplyCriterionPatches returns a patched copy of criteria. Only set fields
// overwrite; an unknown id fails the whole call and criteria is untouched.
func ApplyCriterionPatches(criteria []types.Criterion, patches []types.CriterionPatch) ([]types.Criterion, error) {
	out := make([]types.Criterion, len(criteria))
	copy(out, criteria)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.ID] = i
	}
	for _, p := range patches {
		i, ok := index[p.ID]
		if !ok {
			return nil, types.Errorf(types.ErrUnknownPatchTarget, "rubric has no question %q", p.ID).
				WithHTTPStatus(422)
		}
		c := &out[i]
		if p.Question != nil {
			c.Question = *p.Question
		}
		if p.Category != nil {
			c.Category = *p.Category
		}
		if p.Weight != nil {
			c.Weight = *p.Weight
		}
		if p.Guidance != nil {
			c.Guidance = *p.Guidance
		}
	}
	return out, nil
}

// ApplyAnswerPatches returns a patched copy of answers with the same rules
// as ApplyCriterionPatches.
func ApplyAnswerPatches(answers []types.Answer, patches []types.AnswerPatch) ([]types.Answer, error) {
	out := make([]types.Answer, len(answers))
	copy(out, answers)

	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.QuestionID] = i
	}
	for _, p := range patches {
		i, ok := index[p.QuestionID]
		if !ok {
			return nil, types.Errorf(types.ErrUnknownPatchTarget, "evaluation has no answer for question %q", p.QuestionID).
				WithHTTPStatus(422)
		}
		if p.Score != nil {
			out[i].Score = *p.Score
		}
		if p.Reasoning != nil {
			out[i].Reasoning = *p.Reasoning
		}
	}
	return out, nil
}

// ValidateCriteria rejects empty or duplicate question ids.
func ValidateCriteria(criteria []types.Criterion) error {
	seen := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		if c.ID == "" {
			return types.NewInvalidRequestError("rubric question id is required")
		}
		if _, dup := seen[c.ID]; dup {
			return types.NewInvalidRequestError(fmt.Sprintf("duplicate rubric question %q", c.ID))
		}
		if c.Weight < 0 {
			return types.NewInvalidRequestError(fmt.Sprintf("question %q has a negative weight", c.ID))
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

// ValidateScores checks that every score targets a rubric question once.
func ValidateScores(criteria []types.Criterion, scores []types.Answer) error {
	known := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		known[c.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(scores))
	for _, s := range scores {
		if _, ok := known[s.QuestionID]; !ok {
			return types.NewInvalidRequestError(fmt.Sprintf("score for unknown question %q", s.QuestionID))
		}
		if _, dup := seen[s.QuestionID]; dup {
			return types.NewInvalidRequestError(fmt.Sprintf("duplicate score for question %q", s.QuestionID))
		}
		seen[s.QuestionID] = struct{}{}
	}
	return nil
}

// WeightedScore averages answer scores by question weight. Answers for
// unknown questions are ignored; with zero total weight it is the plain mean.
func WeightedScore(criteria []types.Criterion, answers []types.Answer) float64 {
	weights := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		weights[c.ID] = c.Weight
	}

	var sum, total, plain float64
	var n int
	for _, a := range answers {
		w, ok := weights[a.QuestionID]
		if !ok {
			continue
		}
		sum += w * a.Score
		total += w
		plain += a.Score
		n++
	}
	switch {
	case n == 0:
		return 0
	case total == 0:
		return plain / float64(n)
	default:
		return sum / total
	}
}

// fallbackReport is used when the engine ends without a report.
func fallbackReport(eval *types.Evaluation, source string) *types.Report {
	r := &types.Report{
		Verdict:    types.VerdictNeedsReview,
		AuditTrail: []string{"engine returned no final report; built from " + source + " evaluation"},
	}
	if eval != nil {
		r.OverallScore = eval.OverallScore
		r.Summary = eval.Summary
	}
	return r
}
