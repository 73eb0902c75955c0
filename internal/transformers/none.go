package transformers

import (
	"github.com/ternarybob/tego/internal/models"
)

// NoTransformer consumes no request body and produces an empty data model.
// It backs pipelines that do not operate on request content.
type NoTransformer struct{}

// Name implements interfaces.Transformer.
func (t *NoTransformer) Name() string { return NameNone }

// DecodeBody performs no validation. The body, if any, stays available to
// jobs through the raw request; the decoded body is always nil.
func (t *NoTransformer) DecodeBody(_ []byte) (any, error) {
	return nil, nil
}

// Transform produces an empty Request.
func (t *NoTransformer) Transform(_ any) (*models.Request, error) {
	return models.NewRequest([]models.Component{}), nil
}

// Update changes nothing.
func (t *NoTransformer) Update(_ any, _ *models.Request) (bool, error) {
	return false, nil
}

// Snapshot records nothing.
func (t *NoTransformer) Snapshot(_ any) models.Audit {
	return models.Audit{}
}
