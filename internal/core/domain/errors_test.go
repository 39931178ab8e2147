package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewErrorHasNoCause(t *testing.T) {
	err := NewError(KindConfigValidation, "bad field")
	assert.Equal(t, "config_validation: bad field", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapErrorIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindPersistence, "save failed", cause)
	assert.Equal(t, "persistence: save failed: disk full", err.Error())
	assert.Same(t, cause, err.Unwrap())
}

func TestErrorsIsMatchesWrappedCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindResolutionFailure, "query failed", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestErrorsAsUnwrapsToError(t *testing.T) {
	var target *Error
	err := NewError(KindNotInitialized, "not ready")
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, KindNotInitialized, target.Kind)
}

func TestIsKindMatchesDirectError(t *testing.T) {
	err := NewError(KindEventDispatch, "listener panicked")
	assert.True(t, IsKind(err, KindEventDispatch))
	assert.False(t, IsKind(err, KindExporterStartup))
}

func TestIsKindWalksWrappedChain(t *testing.T) {
	inner := NewError(KindExporterStartup, "bind failed")
	outer := fmtWrap(inner)
	assert.True(t, IsKind(outer, KindExporterStartup))
}

func TestIsKindFalseForNilOrForeignError(t *testing.T) {
	assert.False(t, IsKind(nil, KindConfigValidation))
	assert.False(t, IsKind(errors.New("plain"), KindConfigValidation))
}

// fmtWrap simulates a caller wrapping a *Error with the standard library's
// %w verb, exercising IsKind's walk through an arbitrary Unwrap chain rather
// than just a *Error.Err field.
func fmtWrap(err error) error {
	return &unwrapper{err: err}
}

type unwrapper struct{ err error }

func (u *unwrapper) Error() string { return "wrapped: " + u.err.Error() }
func (u *unwrapper) Unwrap() error { return u.err }
