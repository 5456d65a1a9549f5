package cancel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeControl struct {
	published []byte
	handler   func(payload []byte)
}

func (f *fakeControl) PublishControl(ctx context.Context, payload []byte) error {
	f.published = payload
	if f.handler != nil {
		f.handler(payload)
	}
	return nil
}

func (f *fakeControl) RegisterControlHandler(fn func(payload []byte)) {
	f.handler = fn
}

func TestHandleStartsUncanceled(t *testing.T) {
	r := New(nil)
	h := r.Register("run-1")
	assert.False(t, h.Canceled())
	select {
	case <-h.Done():
		t.Fatal("Done channel must not be closed before cancellation")
	default:
	}
}

func TestRequestCancelTripsLocalHandle(t *testing.T) {
	r := New(nil)
	h := r.Register("run-1")

	hosted, err := r.RequestCancel(context.Background(), "run-1", "user requested")
	require.NoError(t, err)
	assert.True(t, hosted)
	assert.True(t, h.Canceled())
	assert.Equal(t, "user requested", h.Reason())

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel should be closed once canceled")
	}
}

func TestRequestCancelForUnhostedRunStillBroadcasts(t *testing.T) {
	control := &fakeControl{}
	r := New(control)

	hosted, err := r.RequestCancel(context.Background(), "run-unknown", "admin")
	require.NoError(t, err)
	assert.False(t, hosted)
	require.NotEmpty(t, control.published)

	var msg controlMessage
	require.NoError(t, json.Unmarshal(control.published, &msg))
	assert.Equal(t, "run-unknown", msg.RunID)
	assert.Equal(t, "admin", msg.Reason)
}

func TestControlMessageFromAnotherProcessTripsLocalHandle(t *testing.T) {
	control := &fakeControl{}
	r := New(control)
	h := r.Register("run-2")

	payload, err := json.Marshal(controlMessage{RunID: "run-2", Reason: "remote cancel"})
	require.NoError(t, err)
	r.onControlMessage(payload)

	assert.True(t, h.Canceled())
	assert.Equal(t, "remote cancel", h.Reason())
}

func TestControlMessageForDifferentRunDoesNotTrip(t *testing.T) {
	control := &fakeControl{}
	r := New(control)
	h := r.Register("run-3")

	payload, err := json.Marshal(controlMessage{RunID: "run-other", Reason: "noise"})
	require.NoError(t, err)
	r.onControlMessage(payload)

	assert.False(t, h.Canceled())
}

func TestReleaseRemovesHandle(t *testing.T) {
	r := New(nil)
	r.Register("run-4")
	r.Release("run-4")

	_, ok := r.Lookup("run-4")
	assert.False(t, ok)

	hosted, err := r.RequestCancel(context.Background(), "run-4", "late")
	require.NoError(t, err)
	assert.False(t, hosted)
}

func TestTripIsIdempotentAndKeepsFirstReason(t *testing.T) {
	h := newHandle()
	h.trip("first")
	h.trip("second")
	assert.Equal(t, "first", h.Reason())
	assert.True(t, h.Canceled())
}
