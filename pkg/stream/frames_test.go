package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferFIFOOrder(t *testing.T) {
	rb := newRingBuffer(4)
	rb.push(Frame{Kind: FrameKindToken, Text: "a"})
	rb.push(Frame{Kind: FrameKindToken, Text: "b"})
	rb.push(Frame{Kind: FrameKindToken, Text: "c"})

	f1, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "a", f1.Text)

	f2, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "b", f2.Text)
}

func TestRingBufferDropsOldestNonTerminalWhenFull(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(Frame{Kind: FrameKindToken, Text: "first"})
	rb.push(Frame{Kind: FrameKindToken, Text: "second"})
	rb.push(Frame{Kind: FrameKindToken, Text: "third"}) // drops "first"

	f1, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "second", f1.Text)

	f2, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "third", f2.Text)
}

func TestRingBufferNeverEvictsTerminalFrame(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(Frame{Kind: FrameKindToken, Text: "terminal", Terminal: true})
	rb.push(Frame{Kind: FrameKindToken, Text: "next"})
	rb.push(Frame{Kind: FrameKindToken, Text: "overflow"}) // must evict "next", not the terminal frame

	f1, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "terminal", f1.Text, "terminal frame must survive eviction pressure")

	f2, ok := rb.pop()
	require.True(t, ok)
	assert.Equal(t, "overflow", f2.Text)
}

func TestRingBufferCloseUnblocksPop(t *testing.T) {
	rb := newRingBuffer(2)
	done := make(chan bool, 1)
	go func() {
		_, ok := rb.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	rb.close()

	select {
	case ok := <-done:
		assert.False(t, ok, "pop after close must report not-ok")
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after close")
	}
}

func TestRingBufferRejectsPushAfterClose(t *testing.T) {
	rb := newRingBuffer(2)
	rb.close()
	rb.push(Frame{Kind: FrameKindToken, Text: "dropped"})

	done := make(chan bool, 1)
	go func() {
		_, ok := rb.pop()
		done <- ok
	}()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop did not return promptly on a closed, empty buffer")
	}
}

func TestRunIDFromChannel(t *testing.T) {
	id, ok := runIDFromChannel("run:abc-123")
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)

	_, ok = runIDFromChannel("kernel:control")
	assert.False(t, ok)
}
