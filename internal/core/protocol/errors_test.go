package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	t.Run("SentinelMapping", func(t *testing.T) {
		assert.Equal(t, ErrCodeConnectionClosed, GetErrorCode(ErrConnectionClosed))
		assert.Equal(t, ErrCodeChecksumMismatch, GetErrorCode(ErrChecksumMismatch))
		assert.Equal(t, ErrCodeMessageTooLarge, GetErrorCode(ErrMessageTooLarge))
		assert.Equal(t, ErrCodeTransportClosed, GetErrorCode(ErrTransportClosed))
	})

	t.Run("WrappedSentinel", func(t *testing.T) {
		err := fmt.Errorf("handshake with client: %w", ErrVersionMismatch)
		assert.Equal(t, ErrCodeVersionMismatch, GetErrorCode(err))
	})

	t.Run("ProtocolError", func(t *testing.T) {
		cause := errors.New("socket reset")
		err := NewProtocolError(ErrCodeConnectionFailed, "dial failed", cause).
			WithContext("addr", "127.0.0.1:9000")

		assert.Equal(t, ErrCodeConnectionFailed, GetErrorCode(err))
		assert.Equal(t, cause, errors.Unwrap(err))
		assert.Contains(t, err.Error(), "dial failed")
		assert.Contains(t, err.Error(), "socket reset")
		assert.Equal(t, "127.0.0.1:9000", err.Context["addr"])
	})

	t.Run("UnknownError", func(t *testing.T) {
		assert.Equal(t, ErrCodeUnknown, GetErrorCode(errors.New("something else")))
		assert.Equal(t, ErrCodeUnknown, GetErrorCode(nil))
	})
}

func TestErrorPredicates(t *testing.T) {
	t.Run("Temporary", func(t *testing.T) {
		assert.True(t, IsTemporary(ErrSendQueueFull))
		assert.True(t, IsTemporary(ErrConnectionTimeout))
		assert.False(t, IsTemporary(ErrChecksumMismatch))
		assert.False(t, IsTemporary(ErrConnectionClosed))
	})

	t.Run("Fatal", func(t *testing.T) {
		assert.True(t, IsFatal(ErrChecksumMismatch))
		assert.True(t, IsFatal(ErrVersionMismatch))
		assert.True(t, IsFatal(ErrMessageTooLarge))
		assert.False(t, IsFatal(ErrSendQueueFull))
		assert.False(t, IsFatal(ErrConnectionClosed))
	})
}

func TestWrapError(t *testing.T) {
	t.Run("NilPassthrough", func(t *testing.T) {
		assert.NoError(t, WrapError(nil, "ignored"))
	})

	t.Run("KeepsSentinelIdentity", func(t *testing.T) {
		err := WrapError(ErrChecksumMismatch, "rejecting client")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
		assert.Equal(t, ErrCodeChecksumMismatch, GetErrorCode(err))
		assert.Contains(t, err.Error(), "rejecting client")
	})
}
