package errortypes

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetType(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		want ErrorType
		is   func(error) bool
	}{
		{"validation", ValidationError(base, "bad input"), ErrorTypeValidation, IsValidationError},
		{"not found", NotFoundError(base, "missing"), ErrorTypeNotFound, IsNotFoundError},
		{"conflict", ConflictError(base, "duplicate"), ErrorTypeConflict, IsConflictError},
		{"transient", TransientError(base, "busy"), ErrorTypeTransient, IsTransientError},
		{"database", DatabaseError(base, "query failed"), ErrorTypeDatabase, IsDatabaseError},
		{"network", NetworkError(base, "dial failed"), ErrorTypeNetwork, IsNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Type)
			assert.True(t, tt.is(tt.err))
			assert.True(t, errors.Is(tt.err, base))
			assert.NotEmpty(t, tt.err.StackInfo)
		})
	}
}

func TestTypeOfSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", ContextNotFound("abc"))

	assert.Equal(t, ErrorTypeNotFound, TypeOf(err))
	assert.True(t, IsNotFoundError(err))
	assert.True(t, errors.Is(err, ErrContextNotFound))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
	assert.False(t, IsConflictError(err))
}

func TestErrorMessage(t *testing.T) {
	err := DatabaseError(errors.New("disk full"), "failed to append entry")
	assert.Equal(t, "failed to append entry: disk full", err.Error())

	bare := &AppError{Err: errors.New("just the cause")}
	assert.Equal(t, "just the cause", bare.Error())

	nilCause := InternalError(nil, "no cause")
	assert.Contains(t, nilCause.Error(), "unknown error")
}

func TestWithFields(t *testing.T) {
	err := ConflictError(errors.New("unique"), "uri taken").
		WithField("uri", "x").
		WithFields(map[string]interface{}{"attempt": 2})

	assert.Equal(t, "x", err.Fields["uri"])
	assert.Equal(t, 2, err.Fields["attempt"])
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogError(logger, ContextNotFound("ctx-1"))
	out := buf.String()
	require.Contains(t, out, "context lookup failed")
	assert.Contains(t, out, "type=not_found")
	assert.Contains(t, out, "context_id=ctx-1")

	buf.Reset()
	LogError(logger, errors.New("plain failure"))
	assert.Contains(t, buf.String(), "plain failure")
}
