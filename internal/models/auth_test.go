package models

import (
	"net/http"
	"testing"
)

func TestCredentialsFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		want    Credentials
	}{
		{
			name:    "username and password",
			headers: http.Header{"Username": {"alice"}, "Password": {"wonder"}},
			want:    Credentials{Username: "alice", Password: "wonder"},
		},
		{
			name: "direct grant wins over bearer",
			headers: http.Header{
				"Username":      {"alice"},
				"Password":      {"wonder"},
				"Authorization": {"Bearer abc"},
			},
			want: Credentials{Username: "alice", Password: "wonder"},
		},
		{
			name:    "bearer token",
			headers: http.Header{"Authorization": {"Bearer abc"}},
			want:    Credentials{JWT: "Bearer abc"},
		},
		{
			name:    "username without password",
			headers: http.Header{"Username": {"alice"}},
			want:    Credentials{},
		},
		{
			name:    "no credentials",
			headers: http.Header{},
			want:    Credentials{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CredentialsFromHeaders(tc.headers)
			if got != tc.want {
				t.Errorf("CredentialsFromHeaders = %+v, want %+v", got, tc.want)
			}
			if got.Empty() != (tc.want == Credentials{}) {
				t.Errorf("Empty() = %v", got.Empty())
			}
		})
	}
}

func TestAuthResultHeaders(t *testing.T) {
	full := &AuthResult{Authorized: true, AccessToken: "a", RefreshToken: "r"}
	headers := full.Headers()
	if headers["Access-Token"] != "a" || headers["Refresh-Token"] != "r" {
		t.Errorf("Headers() = %v", headers)
	}

	if headers := AuthSuccess().Headers(); len(headers) != 0 {
		t.Errorf("Headers() without tokens = %v", headers)
	}
	if AuthFailure().Authorized {
		t.Error("AuthFailure() reports authorized")
	}
}
