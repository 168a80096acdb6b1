package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError_FillsDefaultUserMessage(t *testing.T) {
	err := NewError("policy.Evaluate", KindInferenceUnavailable, "", errors.New("boom"))
	assert.Contains(t, err.Error(), "policy.Evaluate")
	assert.Equal(t, KindInferenceUnavailable, KindOf(err))
	assert.NotEmpty(t, err.UserMessage)
}

func TestNewError_PreservesExplicitUserMessage(t *testing.T) {
	err := NewError("hook.Handle", KindInvalidInput, "invalid request", errors.New("bad json"))
	assert.Equal(t, "invalid request", err.UserMessage)
}

func TestIsFailClosed(t *testing.T) {
	assert.True(t, IsFailClosed(NewError("op", KindInferenceUnavailable, "", nil)))
	assert.True(t, IsFailClosed(NewError("op", KindInferenceTimeout, "", nil)))
	assert.True(t, IsFailClosed(NewError("op", KindCircuitOpen, "", nil)))
	assert.False(t, IsFailClosed(NewError("op", KindInvalidInput, "", nil)))
}

func TestKindOf_NonSuperegoErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
}

func TestSuperegoError_UnwrapsToSentinelAndCause(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError("op", KindRuleEvaluationFailed, "", cause)
	assert.True(t, errors.Is(err, ErrRuleEvaluationFailed))
	assert.True(t, errors.Is(err, cause))
}
