package engine

import "net/http"

// Well-known environment attribute names. Jobs address further attributes by
// the location strings of their pipeline description.
const (
	EnvRequest         = "request"
	EnvData            = "data"
	EnvBody            = "body"
	EnvAuditTimestamp  = "audit_timestamp"
	EnvPipelineResults = "pipeline_results"
	EnvResponse        = "response"
)

// WebRequest is the slice of the inbound HTTP request that jobs may read:
// the parsed JSON body and the headers.
type WebRequest struct {
	JSON   any
	Header http.Header
}

// Response is the reply a job can install in the environment. A nil JSON
// body renders empty.
type Response struct {
	Status int
	JSON   any
}

// NewJSONResponse builds a response with a JSON body.
func NewJSONResponse(status int, body any) *Response {
	return &Response{Status: status, JSON: body}
}

// NewEmptyResponse builds a response without a body.
func NewEmptyResponse(status int) *Response {
	return &Response{Status: status}
}

// Env is the shared per-run attribute bag. The pipeline, its stages and its
// jobs all reference the same instance; jobs communicate by storing values
// under agreed locations. A run is single-goroutine, so access is unlocked.
type Env struct {
	values map[string]any
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{values: make(map[string]any)}
}

// Get returns the attribute stored under name.
func (e *Env) Get(name string) (any, bool) {
	value, ok := e.values[name]
	return value, ok
}

// Set stores an attribute under name, replacing any previous value.
func (e *Env) Set(name string, value any) {
	e.values[name] = value
}

// Has reports whether an attribute exists under name.
func (e *Env) Has(name string) bool {
	_, ok := e.values[name]
	return ok
}

// EnvValue returns the attribute stored under name when it has the expected
// type. Absence and type mismatches are job-level failures.
func EnvValue[T any](env *Env, name string) (T, error) {
	var zero T
	value, ok := env.Get(name)
	if !ok {
		return zero, NewJobError("environment attribute not found: %s", name)
	}
	typed, ok := value.(T)
	if !ok {
		return zero, NewJobError("environment attribute %q returned invalid object", name)
	}
	return typed, nil
}
