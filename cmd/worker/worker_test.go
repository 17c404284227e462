package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/cart-recovery-service/internal/queue"
)

func TestDrainRequestsAreCoalesced(t *testing.T) {
	triggers := make(chan struct{}, 1)
	h := drainRequestHandler(triggers, zerolog.Nop())

	body, _ := json.Marshal(queue.Event{Type: queue.TopicDrainRequested, OccurredAt: time.Now()})
	assert.NoError(t, h(body))
	assert.NoError(t, h(body))
	assert.NoError(t, h(queue.Event{Type: queue.TopicDrainRequested}))

	assert.Len(t, triggers, 1)
	<-triggers
	assert.NoError(t, h(body))
	assert.Len(t, triggers, 1)
}

func TestMalformedDrainRequestIsAcked(t *testing.T) {
	triggers := make(chan struct{}, 1)
	h := drainRequestHandler(triggers, zerolog.Nop())

	assert.NoError(t, h([]byte("not json")))
	assert.Empty(t, triggers)
}
