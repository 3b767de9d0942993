package orchestrator

import (
	"context"
	"errors"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

var (
	// ErrGenerationFailed aborts a turn before post-processing.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrContractViolation marks a tool that changed fields its category does not own.
	ErrContractViolation = errors.New("capability contract violation")
)

// Stage is one pipeline stage.
type Stage string

const (
	StageContext     Stage = "context"
	StageGeneration  Stage = "generation"
	StagePostProcess Stage = "postprocess"
)

// Outcome of a single tool invocation.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeEmpty  Outcome = "empty"
	OutcomeFailed Outcome = "failed"
)

// Generator produces the persona reply for a record whose Context and Tools
// are already populated.
type Generator interface {
	Generate(ctx context.Context, rec lifecycle.Record) (string, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, rec lifecycle.Record) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, rec lifecycle.Record) (string, error) {
	return f(ctx, rec)
}

// StageProgress reports a finished stage.
type StageProgress struct {
	TurnID string
	Stage  Stage
	Err    error
}

// ProgressCallback receives stage updates during a turn.
type ProgressCallback func(progress StageProgress)
