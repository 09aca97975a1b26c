package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(ConfigInvalid("bad horizon")))
	assert.True(t, IsAppError(SamplingError("chain failed", stderrors.New("boom"))))
	assert.False(t, IsAppError(stderrors.New("plain")))
	assert.False(t, IsAppError(nil))
}

func TestWrapPreservesCode(t *testing.T) {
	base := ValidationError("positive count above tested count")
	wrapped := Wrap(base, "loading dataset")
	require.True(t, IsAppError(wrapped))
	assert.Equal(t, CodeValidationError, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "loading dataset")
	assert.True(t, stderrors.Is(wrapped, base))
}

func TestWrapForeignError(t *testing.T) {
	cause := stderrors.New("connection refused")
	wrapped := Wrap(cause, "connecting to run archive")
	require.True(t, IsAppError(wrapped))
	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, cause))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "nothing happened"))
	assert.NoError(t, Wrapf(nil, "nothing %s", "happened"))
}

func TestGetCodeUnknownForForeignErrors(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
	assert.Equal(t, CodeConfigInvalid, GetCode(Newf(CodeConfigInvalid, "chains must be at least %d", 1)))
}
