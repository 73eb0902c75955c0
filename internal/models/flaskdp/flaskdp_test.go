package flaskdp

import (
	"encoding/json"
	"testing"
)

func TestMechanismFromString(t *testing.T) {
	tests := []struct {
		in   string
		want Mechanism
	}{
		{"laplace", MechanismLaplace},
		{"LAPLACE/TRUNCATED", MechanismLaplaceTruncated},
		{"laplace/bounded-domain", MechanismLaplaceBoundedDomain},
		{"laplace/bounded-noise", MechanismLaplaceBoundedNoise},
		{"Gaussian", MechanismGaussian},
		{"gaussian/analytic", MechanismGaussianAnalytic},
		{"unknown", MechanismLaplace},
		{"", MechanismLaplace},
	}

	for _, tt := range tests {
		if got := MechanismFromString(tt.in); got != tt.want {
			t.Errorf("MechanismFromString(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMechanism_NeedsBounds(t *testing.T) {
	bounded := []Mechanism{MechanismLaplaceTruncated, MechanismLaplaceBoundedDomain}
	for _, m := range bounded {
		if !m.NeedsBounds() {
			t.Errorf("%q should need bounds", m)
		}
	}
	unbounded := []Mechanism{MechanismLaplace, MechanismLaplaceBoundedNoise, MechanismGaussian, MechanismGaussianAnalytic}
	for _, m := range unbounded {
		if m.NeedsBounds() {
			t.Errorf("%q should not need bounds", m)
		}
	}
}

func TestResponse_Decode(t *testing.T) {
	raw := `{"items":[{"id":"port","values":[8440.2,8444.9]}]}`

	var response Response
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].ID != "port" {
		t.Fatalf("items: got %+v", response.Items)
	}
	if len(response.Items[0].Values) != 2 {
		t.Errorf("values: got %v", response.Items[0].Values)
	}

	var missing Response
	if err := json.Unmarshal([]byte(`{"results":[]}`), &missing); err == nil {
		t.Error("expected decode error for missing items")
	}
	if err := json.Unmarshal([]byte(`{"items":[{"id":"port"}]}`), &missing); err == nil {
		t.Error("expected decode error for item missing values")
	}
}
