package models

import "net/http"

// Credentials carries whatever authentication material a web request
// supplied. Exactly one style is populated: username/password for the
// direct grant flow, or a bearer token for JWT verification.
type Credentials struct {
	Username string
	Password string
	JWT      string
}

// Empty reports whether the request carried no credentials at all.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == "" && c.JWT == ""
}

// CredentialsFromHeaders extracts credentials from request headers.
// Username/Password headers take precedence over Authorization.
func CredentialsFromHeaders(h http.Header) Credentials {
	username := h.Get("Username")
	password := h.Get("Password")
	if username != "" && password != "" {
		return Credentials{Username: username, Password: password}
	}
	if auth := h.Get("Authorization"); auth != "" {
		return Credentials{JWT: auth}
	}
	return Credentials{}
}

// AuthResult is the outcome of an authorization check. Token values, when
// present, are echoed back to the caller as response headers.
type AuthResult struct {
	Authorized   bool
	AccessToken  string
	RefreshToken string
}

// AuthSuccess returns an authorized result with no tokens.
func AuthSuccess() *AuthResult {
	return &AuthResult{Authorized: true}
}

// AuthFailure returns an unauthorized result.
func AuthFailure() *AuthResult {
	return &AuthResult{}
}

// Headers returns the token headers to attach to a response.
func (r *AuthResult) Headers() map[string]string {
	headers := make(map[string]string)
	if r.AccessToken != "" {
		headers["Access-Token"] = r.AccessToken
	}
	if r.RefreshToken != "" {
		headers["Refresh-Token"] = r.RefreshToken
	}
	return headers
}
