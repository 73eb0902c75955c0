package interfaces

import (
	"github.com/ternarybob/tego/internal/models"
)

// Transformer adapts one external payload shape to and from the internal
// Request data model. The body value returned by DecodeBody is the same
// value later handed to Transform, Update and Snapshot.
type Transformer interface {
	// Name is the identifier clients put in the Transformer-Type header.
	Name() string

	// DecodeBody parses and validates the raw request body into this
	// transformer's body type. A non-nil error means the payload does
	// not match and the request must be rejected before the pipeline.
	DecodeBody(raw []byte) (any, error)

	// Transform converts a decoded body into a Request.
	Transform(body any) (*models.Request, error)

	// Update writes anonymized Request values back into the decoded
	// body. Returns true if any value changed.
	Update(body any, data *models.Request) (bool, error)

	// Snapshot captures audit-relevant information from the body before
	// the pipeline runs and potentially rewrites it.
	Snapshot(body any) models.Audit
}
