// Package secrets resolves configuration values that point at a secret
// store instead of holding the secret inline.
package secrets

import (
	"context"
	"errors"
	"strings"
)

// Prefix marks a value as a Parameter Store reference, as in
// "ssm:/auditgate/slack-webhook".
const Prefix = "ssm:"

var ErrNoSource = errors.New("secret reference found but no secret source is configured")

type Source interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// IsRef reports whether value is a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Resolve returns value unchanged unless it is a reference, in which case
// the secret it names is read from src.
func Resolve(ctx context.Context, src Source, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	if src == nil {
		return "", ErrNoSource
	}
	return src.GetSecret(ctx, strings.TrimPrefix(value, Prefix))
}
