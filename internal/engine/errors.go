package engine

import "fmt"

// The three error families below are the only ones the execution levels
// absorb: a JobError fails the job, a StageError fails the stage, a
// PipelineError fails the pipeline. Anything else escapes to the caller.

// JobError marks a failure handled at job level.
type JobError struct {
	msg string
	err error
}

// NewJobError builds a JobError with a formatted message.
func NewJobError(format string, args ...any) *JobError {
	return &JobError{msg: fmt.Sprintf(format, args...)}
}

// WrapJobError builds a JobError carrying an underlying cause.
func WrapJobError(err error, format string, args ...any) *JobError {
	return &JobError{msg: fmt.Sprintf(format, args...), err: err}
}

func (e *JobError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *JobError) Unwrap() error { return e.err }

// StageError marks a failure handled at stage level.
type StageError struct {
	msg string
}

// NewStageError builds a StageError with a formatted message.
func NewStageError(format string, args ...any) *StageError {
	return &StageError{msg: fmt.Sprintf(format, args...)}
}

func (e *StageError) Error() string { return e.msg }

// PipelineError marks a failure handled at pipeline level.
type PipelineError struct {
	msg string
}

// NewPipelineError builds a PipelineError with a formatted message.
func NewPipelineError(format string, args ...any) *PipelineError {
	return &PipelineError{msg: fmt.Sprintf(format, args...)}
}

func (e *PipelineError) Error() string { return e.msg }
