package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesSentinelOfSameKind(t *testing.T) {
	err := NewError(KindSessionExpired, "session.GetOrCreate", "session %q expired", "abc")

	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.False(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, KindSessionExpired, KindOf(err))
}

func TestErrorIsThroughWrapping(t *testing.T) {
	inner := NewError(KindUnknownAgent, "concierge.dispatch", "no role %q", "x")
	wrapped := fmt.Errorf("handle request: %w", inner)

	assert.ErrorIs(t, wrapped, ErrUnknownAgent)
	assert.Equal(t, KindUnknownAgent, KindOf(wrapped))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(KindExternalModelFailure, "agent.SendUserMessage", cause, "model %s", "gpt-4o")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrExternalModelFailure)
	assert.Equal(t, "agent.SendUserMessage: ExternalModelFailure: model gpt-4o: connection reset", err.Error())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindSessionNotFound:            http.StatusNotFound,
		KindSessionExpired:             http.StatusGone,
		KindMalformedForwardingRequest: http.StatusBadRequest,
		KindModelUnavailable:           http.StatusBadRequest,
		KindExternalModelFailure:       http.StatusBadGateway,
		KindLoopBoundExceeded:          http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, k.HTTPStatus(), k.String())
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "MalformedForwardingRequest", KindMalformedForwardingRequest.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
