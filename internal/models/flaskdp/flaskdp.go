// Package flaskdp holds the wire models of the FlaskDP differential privacy
// service.
package flaskdp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/tego/internal/models"
)

// Version of the FlaskDP wire protocol this package speaks.
const Version = "1"

// Mechanism is a differential-privacy noise mechanism identifier.
type Mechanism string

const (
	MechanismLaplace              Mechanism = "laplace"
	MechanismLaplaceTruncated     Mechanism = "laplace/truncated"
	MechanismLaplaceBoundedDomain Mechanism = "laplace/bounded-domain"
	MechanismLaplaceBoundedNoise  Mechanism = "laplace/bounded-noise"
	MechanismGaussian             Mechanism = "gaussian"
	MechanismGaussianAnalytic     Mechanism = "gaussian/analytic"
)

// MechanismFromString maps a policy scheme string to a Mechanism, falling
// back to Laplace for anything unrecognized.
func MechanismFromString(s string) Mechanism {
	switch strings.ToLower(s) {
	case string(MechanismLaplaceTruncated):
		return MechanismLaplaceTruncated
	case string(MechanismLaplaceBoundedDomain):
		return MechanismLaplaceBoundedDomain
	case string(MechanismLaplaceBoundedNoise):
		return MechanismLaplaceBoundedNoise
	case string(MechanismGaussian):
		return MechanismGaussian
	case string(MechanismGaussianAnalytic):
		return MechanismGaussianAnalytic
	default:
		return MechanismLaplace
	}
}

// NeedsBounds reports whether the mechanism requires explicit domain bounds.
func (m Mechanism) NeedsBounds() bool {
	return m == MechanismLaplaceTruncated || m == MechanismLaplaceBoundedDomain
}

// ItemResponse is one perturbed series in a FlaskDP response.
type ItemResponse struct {
	ID     string    `json:"id"`
	Values []float64 `json:"values"`
}

// UnmarshalJSON rejects responses missing schema fields.
func (i *ItemResponse) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "id", "values"); err != nil {
		return fmt.Errorf("flaskdp item: %w", err)
	}
	type alias ItemResponse
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*i = ItemResponse(dec)
	return nil
}

// ItemRequest is one numeric series to perturb along with its DP budget.
type ItemRequest struct {
	ID          string    `json:"id"`
	Values      []float64 `json:"values"`
	Epsilon     float64   `json:"epsilon"`
	Delta       float64   `json:"delta"`
	Sensitivity float64   `json:"sensitivity"`
	Mechanism   Mechanism `json:"mechanism"`
	Upper       float64   `json:"upper"`
	Lower       float64   `json:"lower"`
}

// Request is the payload of the DP apply endpoint.
type Request struct {
	Items []ItemRequest `json:"items"`
}

// Response is the body returned by the DP apply endpoint.
type Response struct {
	Items []ItemResponse `json:"items"`
}

// UnmarshalJSON rejects responses missing the items list.
func (r *Response) UnmarshalJSON(b []byte) error {
	if err := models.RequireFields(b, "items"); err != nil {
		return fmt.Errorf("flaskdp response: %w", err)
	}
	type alias Response
	var dec alias
	if err := json.Unmarshal(b, &dec); err != nil {
		return err
	}
	*r = Response(dec)
	return nil
}
