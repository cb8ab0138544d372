package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"configuration", NewConfigurationError("max units must be positive, got %d", 0), KindConfiguration},
		{"network", NewNetworkError("Kraken", fmt.Errorf("dial tcp: refused")), KindNetwork},
		{"protocol", NewProtocolError("Exmo", "bad pair", "https://docs"), KindProtocol},
		{"format", NewFormatError("/tmp/x.csv", "missing info comment"), KindFormat},
		{"already exists", NewAlreadyExistsError("asset file"), KindAlreadyExists},
		{"not found", NewNotFoundError("exchange Foo"), KindNotFound},
		{"storage", NewStorageError("append", "/tmp/x.csv", fmt.Errorf("disk full")), KindStorage},
		{"wrapped", fmt.Errorf("job failed: %w", NewProtocolError("Bitfinex", "x", "")), KindProtocol},
		{"plain", fmt.Errorf("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.expected))
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewNotFoundError("asset file"))

	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.True(t, errors.Is(err, &Error{}))
	assert.False(t, errors.Is(err, &Error{Kind: KindFormat}))
}

func TestErrorString(t *testing.T) {
	t.Run("includes component and operation", func(t *testing.T) {
		err := NewStorageError("append", "/data/x.csv", fmt.Errorf("disk full")).WithComponent("storage", "append")
		assert.Equal(t, "[storage/storage] append: /data/x.csv: disk full", err.Error())
	})

	t.Run("unwraps cause", func(t *testing.T) {
		cause := fmt.Errorf("refused")
		err := NewNetworkError("Bitpanda", cause)
		assert.ErrorIs(t, err, cause)
	})
}

func TestClassify(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Classify("Exmo", nil))
	})

	t.Run("url errors become network errors", func(t *testing.T) {
		err := &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: fmt.Errorf("connection refused")}}
		classified := Classify("Exmo", err)
		assert.Equal(t, KindNetwork, KindOf(classified))
		assert.Equal(t, "Exmo", classified.(*Error).Exchange)
	})

	t.Run("deadline exceeded is a network error", func(t *testing.T) {
		assert.Equal(t, KindNetwork, KindOf(Classify("Kraken", context.DeadlineExceeded)))
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		err := &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}
		assert.ErrorIs(t, Classify("Kraken", err), context.Canceled)
		assert.Equal(t, KindUnknown, KindOf(Classify("Kraken", err)))
	})

	t.Run("already classified errors are kept", func(t *testing.T) {
		protocol := NewProtocolError("Kraken", "EQuery:Unknown asset pair", "")
		assert.Same(t, protocol, Classify("Kraken", protocol))
	})

	t.Run("unrecognised errors are returned unchanged", func(t *testing.T) {
		err := fmt.Errorf("something odd")
		assert.Same(t, err, Classify("Kraken", err))
	})
}

func TestUserMessage(t *testing.T) {
	t.Run("protocol message carries docs link", func(t *testing.T) {
		msg := UserMessage(NewProtocolError("Exmo", `{"error":"bad"}`, "https://documenter.getpostman.com/view/10287440/SzYXWKPi"))
		require.Contains(t, msg, "error from EXMO API: {\"error\":\"bad\"}")
		assert.Contains(t, msg, "https://documenter.getpostman.com/view/10287440/SzYXWKPi")
	})

	t.Run("network message includes cause", func(t *testing.T) {
		msg := UserMessage(NewNetworkError("Kraken", fmt.Errorf("no such host")))
		assert.Contains(t, msg, "problem connecting to KRAKEN API")
		assert.Contains(t, msg, "no such host")
	})

	t.Run("plain errors", func(t *testing.T) {
		assert.Equal(t, "boom", UserMessage(fmt.Errorf("boom")))
		assert.Equal(t, "", UserMessage(nil))
	})
}
