package store

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateUniqueIDs(t *testing.T) {
	s := New(0)
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := s.Create()
		_, dup := seen[id]
		require.False(t, dup, "id %s issued twice", id)
		seen[id] = struct{}{}
	}
	assert.Equal(t, 1000, s.Len())
}

func TestStore_PollUnknown(t *testing.T) {
	s := New(0)
	_, status := s.Poll("no-such-id")
	assert.Equal(t, StatusUnknown, status)
}

func TestStore_CompleteThenPoll(t *testing.T) {
	s := New(0)
	id := s.Create()

	_, status := s.Poll(id)
	assert.Equal(t, StatusProcessing, status, "pending job reports processing and stays")

	s.Complete(id, "the royal answer")

	res, status := s.Poll(id)
	assert.Equal(t, StatusDone, status)
	assert.Equal(t, "the royal answer", res.Text)

	_, status = s.Poll(id)
	assert.Equal(t, StatusUnknown, status, "terminal result is consumed by the first poll")
	assert.Equal(t, 0, s.Len())
}

func TestStore_FailThenPoll(t *testing.T) {
	s := New(0)
	id := s.Create()
	s.Fail(id, errors.New("upstream exploded"))

	res, status := s.Poll(id)
	assert.Equal(t, StatusFailed, status)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "upstream exploded")

	_, status = s.Poll(id)
	assert.Equal(t, StatusUnknown, status)
}

func TestStore_FirstTerminalWriteWins(t *testing.T) {
	s := New(0)
	id := s.Create()

	s.Complete(id, "first")
	s.Complete(id, "second")           // ignored
	s.Fail(id, errors.New("too late")) // ignored

	res, status := s.Poll(id)
	assert.Equal(t, StatusDone, status)
	assert.Equal(t, "first", res.Text)
}

func TestStore_FinishMissingIDIsNoop(t *testing.T) {
	s := New(0)
	assert.NotPanics(t, func() {
		s.Complete("ghost", "text")
		s.Fail("ghost", errors.New("boom"))
	})
	assert.Equal(t, 0, s.Len())
}

func TestStore_ConcurrentPollSingleDelivery(t *testing.T) {
	s := New(0)
	id := s.Create()
	s.Complete(id, "once only")

	const pollers = 50
	var delivered int32
	var wg sync.WaitGroup
	wg.Add(pollers)
	for i := 0; i < pollers; i++ {
		go func() {
			defer wg.Done()
			if res, status := s.Poll(id); status == StatusDone {
				atomic.AddInt32(&delivered, 1)
				assert.Equal(t, "once only", res.Text)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), delivered, "exactly one poll observes the terminal value")
}

func TestStore_NoCrossDelivery(t *testing.T) {
	s := New(0)
	idA, idB := s.Create(), s.Create()
	s.Complete(idA, "answer A")
	s.Complete(idB, "answer B")

	resA, _ := s.Poll(idA)
	resB, _ := s.Poll(idB)
	assert.Equal(t, "answer A", resA.Text)
	assert.Equal(t, "answer B", resB.Text)
}

func TestStore_GraceRetention(t *testing.T) {
	s := New(time.Minute)
	id := s.Create()
	s.Complete(id, "kept around")

	res, status := s.Poll(id)
	require.Equal(t, StatusDone, status)
	assert.Equal(t, "kept around", res.Text)

	// within the grace window a retry still reads the result
	res, status = s.Poll(id)
	assert.Equal(t, StatusDone, status)
	assert.Equal(t, "kept around", res.Text)
	assert.Equal(t, 0, s.Len(), "job itself is consumed")
}
