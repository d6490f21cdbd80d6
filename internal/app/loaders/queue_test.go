package loaders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

func notified(n *Notifier) bool {
	select {
	case <-n.C():
		return true
	default:
		return false
	}
}

func TestNotifier_Coalesces(t *testing.T) {
	n := NewNotifier()
	n.Notify()
	n.Notify()
	n.Notify()

	assert.True(t, notified(n))
	assert.False(t, notified(n))
}

func TestPacketQueue_WakesOnlyWhenEmpty(t *testing.T) {
	n := NewNotifier()
	q := NewPacketQueue(n)

	q.Feed(videoID, audio.NewPacket([]byte{1}, nil))
	assert.True(t, notified(n))

	q.Feed(videoID, audio.NewPacket([]byte{2}, nil))
	q.ForceToBuffer(videoID)
	q.Feed(songID, audio.NewPacket([]byte{3}, nil))
	assert.False(t, notified(n))

	q.Drain()
	q.ForceToBuffer(videoID)
	assert.True(t, notified(n))
}

func TestPacketQueue_DrainPreservesOrder(t *testing.T) {
	q := NewPacketQueue(NewNotifier())
	other := audio.NewMsgID(audio.TypeVideo, "video-2", 1)

	for i := byte(0); i < 5; i++ {
		q.Feed(videoID, audio.NewPacket([]byte{i}, nil))
		q.Feed(other, audio.NewPacket([]byte{10 + i}, nil))
	}
	q.ForceToBuffer(other)

	queues, forces := q.Drain()
	require.Len(t, queues, 2)
	for i, p := range queues[videoID] {
		assert.Equal(t, []byte{byte(i)}, p.Data)
	}
	for i, p := range queues[other] {
		assert.Equal(t, []byte{10 + byte(i)}, p.Data)
	}
	assert.Contains(t, forces, other)

	queues, forces = q.Drain()
	assert.Empty(t, queues)
	assert.Empty(t, forces)
}

func TestPacketQueue_ClearReleases(t *testing.T) {
	q := NewPacketQueue(NewNotifier())
	released := 0
	for i := 0; i < 3; i++ {
		q.Feed(videoID, audio.NewPacket([]byte{1}, func() { released++ }))
	}

	q.Clear()
	assert.Equal(t, 3, released)

	queues, _ := q.Drain()
	assert.Empty(t, queues)
}

func TestPacketQueue_FeedAfterClearReleases(t *testing.T) {
	n := NewNotifier()
	q := NewPacketQueue(n)
	q.Clear()

	released := 0
	q.Feed(videoID, audio.NewPacket([]byte{1}, func() { released++ }))
	q.ForceToBuffer(videoID)

	assert.Equal(t, 1, released)
	assert.False(t, notified(n))
	queues, forces := q.Drain()
	assert.Empty(t, queues)
	assert.Empty(t, forces)
}
