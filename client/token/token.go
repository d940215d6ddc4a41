// Package token supplies bearer credentials to the event client transport.
package token

import "context"

// Provider returns the bearer token to attach to outgoing requests. It is
// called once per request so implementations can rotate or refresh tokens
// without the caller needing to know.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a fixed token forever, for service accounts whose
// credentials don't rotate within the process lifetime.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// None is a Provider that always returns an empty token, for deployments
// that run with AUTH_TOKEN unset.
type None struct{}

// Token implements Provider.
func (None) Token(context.Context) (string, error) {
	return "", nil
}
