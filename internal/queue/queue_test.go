package queue

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueDeliversToSubscribers(t *testing.T) {
	q := NewInMemoryQueue(zerolog.Nop())

	var got atomic.Value
	require.NoError(t, q.Subscribe(TopicAttemptSent, func(payload any) error {
		e, err := DecodeEvent(payload)
		if err != nil {
			return err
		}
		got.Store(e)
		return nil
	}))

	require.NoError(t, q.Publish(TopicAttemptSent, Event{Type: TopicAttemptSent, SessionID: "s-1", AttemptNumber: 2}))
	q.Wait()

	e := got.Load().(Event)
	assert.Equal(t, "s-1", e.SessionID)
	assert.Equal(t, 2, e.AttemptNumber)
}

func TestInMemoryQueueRetriesFailedJobs(t *testing.T) {
	q := NewInMemoryQueue(zerolog.Nop())
	q.backoff = time.Millisecond

	var calls int32
	require.NoError(t, q.Subscribe("t", func(payload any) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, q.Publish("t", 1))
	q.Wait()
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestInMemoryQueueGivesUpAfterMaxRetries(t *testing.T) {
	q := NewInMemoryQueue(zerolog.Nop())
	q.backoff = time.Millisecond

	var calls int32
	require.NoError(t, q.Subscribe("t", func(payload any) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	}))

	require.NoError(t, q.Publish("t", 1))
	q.Wait()
	assert.EqualValues(t, q.maxRetries+1, atomic.LoadInt32(&calls))
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	q := NewInMemoryQueue(zerolog.Nop())
	assert.NoError(t, q.Publish("nobody", 1))
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"type":"attempt.failed","cart_session_id":4,"error":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, TopicAttemptFailed, e.Type)
	assert.Equal(t, 4, e.CartSessionID)

	_, err = DecodeEvent(42)
	assert.Error(t, err)
}
