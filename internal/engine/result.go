package engine

import "strings"

// JobResult is the reported outcome of one job. Generator jobs report the
// names of the jobs they produced in the result field.
type JobResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// StageResult aggregates the job results of one stage. Failures counts every
// failed job, optional or not; a value of -1 marks a stage aborted by a
// StageError.
type StageResult struct {
	Success  bool                 `json:"success"`
	Result   map[string]JobResult `json:"result"`
	Failures int                  `json:"failures"`
}

// NewStageResult returns an empty successful stage result.
func NewStageResult() StageResult {
	return StageResult{Success: true, Result: make(map[string]JobResult)}
}

// PipelineResult aggregates the stage results of one run. Reply jobs can
// serialize it mid-run, so the pipeline mutates one instance in place.
type PipelineResult struct {
	Success bool                   `json:"success"`
	Result  map[string]StageResult `json:"result"`
}

// NewPipelineResult returns an empty successful pipeline result.
func NewPipelineResult() *PipelineResult {
	return &PipelineResult{Success: true, Result: make(map[string]StageResult)}
}

// formatJobNames renders generated job names the way reports list them:
// bracketed, quoted and comma separated.
func formatJobNames(names []string) string {
	if len(names) == 0 {
		return "[]"
	}
	return "['" + strings.Join(names, "', '") + "']"
}
