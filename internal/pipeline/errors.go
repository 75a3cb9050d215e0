package pipeline

import (
	"errors"
	"fmt"
)

// RetrievalError means the embedding service or the dataset store failed.
type RetrievalError struct {
	Stage Stage
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: dataset retrieval failed: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// LoadError means the dataset's CSV could not be fetched or parsed.
type LoadError struct {
	Stage    Stage
	Location string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: could not load dataset from %s: %v", e.Stage, e.Location, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UnanswerableError is the expected refusal when the selected data cannot answer the question.
// It is not a fault.
type UnanswerableError struct {
	Stage     Stage
	DatasetID string
	Reasoning string
}

func (e *UnanswerableError) Error() string {
	if e.DatasetID == "" {
		return "question cannot be answered: " + e.Reasoning
	}
	return fmt.Sprintf("question cannot be answered from dataset %s: %s", e.DatasetID, e.Reasoning)
}

// SynthesisError means the language model did not produce a usable structured result.
type SynthesisError struct {
	Stage Stage
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: model output unusable: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// ExecutionError means the generated SQL failed against the session table.
type ExecutionError struct {
	Stage Stage
	SQL   string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: query failed: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrorKind names the class of a pipeline error for transport boundaries and metrics.
func ErrorKind(err error) string {
	var (
		re *RetrievalError
		le *LoadError
		ue *UnanswerableError
		se *SynthesisError
		ee *ExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ue):
		return "unanswerable"
	case errors.As(err, &re):
		return "retrieval"
	case errors.As(err, &le):
		return "load"
	case errors.As(err, &se):
		return "synthesis"
	case errors.As(err, &ee):
		return "execution"
	default:
		return "internal"
	}
}

// ErrorStage returns the stage a pipeline error occurred in, if known.
func ErrorStage(err error) Stage {
	var (
		re *RetrievalError
		le *LoadError
		ue *UnanswerableError
		se *SynthesisError
		ee *ExecutionError
	)
	switch {
	case errors.As(err, &ue):
		return ue.Stage
	case errors.As(err, &re):
		return re.Stage
	case errors.As(err, &le):
		return le.Stage
	case errors.As(err, &se):
		return se.Stage
	case errors.As(err, &ee):
		return ee.Stage
	}
	return ""
}
