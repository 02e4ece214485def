package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"illegal state", IllegalState("Inlet(a)", "Grab", "element not pushed"), ErrorFatal},
		{"protocol violation", ProtocolViolation("SubscriberInlet(a)", "OnNext", ErrNoDemand), ErrorFatal},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"context canceled", context.Canceled, ErrorTransient},
		{"invalid graph", fmt.Errorf("start: %w", ErrGraphInvalid), ErrorInvalid},
		{"invalid demand", ErrInvalidDemand, ErrorInvalid},
		{"wrapped invalid", WrapInvalid(errors.New("bad"), "Config", "Load", "parse"), ErrorInvalid},
		{"wrapped fatal", WrapFatal(errors.New("boom"), "Graph", "Start", "start"), ErrorFatal},
		{"unknown", errors.New("something"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.err))
		})
	}
}

func TestIllegalState(t *testing.T) {
	err := IllegalState("Inlet(map.in)", "Pull", "already pulled")

	assert.ErrorIs(t, err, ErrIllegalState)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "Inlet(map.in).Pull: already pulled")
}

func TestProtocolViolation(t *testing.T) {
	err := ProtocolViolation("SubscriberInlet(src)", "OnNext", ErrNoDemand)

	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, err, ErrNoDemand)
	assert.Contains(t, err.Error(), "without outstanding demand")
}

func TestUserFunction(t *testing.T) {
	cause := errors.New("division by zero")
	err := UserFunction("map", "fn", cause)

	assert.ErrorIs(t, err, ErrUserFunction)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, UserFunction("map", "fn", nil))
}

func TestSupersede(t *testing.T) {
	original := errors.New("upstream failed")
	replacement := errors.New("cleanup failed")

	t.Run("chains both errors", func(t *testing.T) {
		err := Supersede(replacement, original)

		assert.ErrorIs(t, err, replacement)
		assert.NotErrorIs(t, err, original)

		var se *SupersededError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, original, se.Superseded)
		assert.Contains(t, err.Error(), "upstream failed")
	})

	t.Run("nil sides", func(t *testing.T) {
		assert.Equal(t, original, Supersede(nil, original))
		assert.Equal(t, replacement, Supersede(replacement, nil))
	})
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "A", "B", "c"))

	base := errors.New("base")
	err := Wrap(base, "Graph", "Start", "validation")
	assert.Equal(t, "Graph.Start: validation failed: base", err.Error())
	assert.ErrorIs(t, err, base)

	classified := WrapTransient(base, "Client", "Connect", "dial")
	var ce *ClassifiedError
	require.ErrorAs(t, classified, &ce)
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Client", ce.Component)
	assert.Equal(t, "Connect", ce.Operation)
}

func TestFromPanic(t *testing.T) {
	base := errors.New("boom")

	assert.Nil(t, FromPanic(nil))
	assert.Equal(t, base, FromPanic(base))
	assert.EqualError(t, FromPanic("bad"), "panic: bad")
}
