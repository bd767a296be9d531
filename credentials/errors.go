package credentials

import "fmt"

const (
	// ErrMissingInstanceURL is returned when the token response has no
	// instance_url
	ErrMissingInstanceURL = sentinel("token response is missing instance_url")

	// ErrMissingAccessToken is returned when the token response has no
	// access_token
	ErrMissingAccessToken = sentinel("token response is missing access_token")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// CredentialError is returned at construction when a required credential is
// missing
type CredentialError struct {
	Field string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("missing required credential %q", e.Field)
}

// UnexpectedTokenTypeError is returned when the token endpoint hands back
// anything other than a bearer token
type UnexpectedTokenTypeError string

func (e UnexpectedTokenTypeError) Error() string {
	return fmt.Sprintf("expected a Bearer token, got %q", string(e))
}
