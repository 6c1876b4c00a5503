package simulation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultJobTimeout bounds every distributed job.
const DefaultJobTimeout = 5 * time.Minute

// JobState is the terminal state reported by a backend.
type JobState string

const (
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobSpec describes one distributed simulation job.
type JobSpec struct {
	ID     string            `json:"id"`
	Script string            `json:"script"`
	Args   map[string]string `json:"args"`
}

// JobStatus is the terminal status of a job.
type JobStatus struct {
	State        JobState `json:"status"`
	EditableText string   `json:"editable_text,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// Backend runs jobs on remote workers.
type Backend interface {
	Submit(ctx context.Context, spec JobSpec, namespace string, timeout time.Duration) (*JobStatus, error)
}

// JobStrategyConfig configures JobStrategy.
type JobStrategyConfig struct {
	Script       string
	Namespace    string
	TransportURL string
	Timeout      time.Duration
}

// JobStrategy runs the simulation as a distributed job.
type JobStrategy struct {
	backend Backend
	cfg     JobStrategyConfig
	logger  *zap.Logger
}

// NewJobStrategy creates the distributed-job strategy.
func NewJobStrategy(backend Backend, cfg JobStrategyConfig, logger *zap.Logger) *JobStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.Script == "" {
		cfg.Script = "simulate_copilot"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &JobStrategy{backend: backend, cfg: cfg, logger: logger.With(zap.String("component", "simulation_job"))}
}

func (j *JobStrategy) Name() string { return "job" }

// Simulate submits the job and maps its terminal status. The remote job is
// never killed from here.
func (j *JobStrategy) Simulate(ctx context.Context, req Request) (*Result, error) {
	spec := JobSpec{
		Script: j.cfg.Script,
		Args: map[string]string{
			"project_id":    req.ProjectID,
			"transport_url": j.cfg.TransportURL,
			"content":       req.Content,
		},
	}
	status, err := j.backend.Submit(ctx, spec, j.cfg.Namespace, j.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	if status == nil {
		return nil, fmt.Errorf("job backend returned no status")
	}
	if status.State != JobSucceeded {
		reason := status.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("job %s: %s", status.State, reason)
	}
	if status.EditableText == "" {
		reason := status.Reason
		if reason == "" {
			reason = "missing editable_text"
		}
		return nil, fmt.Errorf("job succeeded without text: %s", reason)
	}
	j.logger.Debug("job succeeded", zap.String("project_id", req.ProjectID), zap.Int("position", req.InputPosition))
	return &Result{EditableText: status.EditableText}, nil
}
