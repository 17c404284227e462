// internal/controller/pipeline_controller.go
package controller

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/handler"
	"github.com/unclebandit/cart-recovery-service/internal/queue"
	"github.com/unclebandit/cart-recovery-service/internal/service"
)

// PipelineController lets an external scheduler trigger a drain over HTTP.
// Broker is set only when a worker consumes drain requests from it.
type PipelineController struct {
	Scheduler service.Drainer
	Broker    queue.Queue
	Log       zerolog.Logger
}

// Process drains due schedules in the request. With ?async=true and a
// broker it only publishes a drain request for the worker and returns 202.
// Without a broker the drain runs in the request.
func (c *PipelineController) Process(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if c.Broker == nil {
			c.Log.Debug().Msg("no broker configured, draining synchronously")
		} else {
			c.publishDrainRequest(w)
			return
		}
	}

	if r.URL.Query().Get("sweep") == "true" {
		if _, err := c.Scheduler.Sweep(r.Context()); err != nil {
			handler.WriteError(w, c.Log, err)
			return
		}
	}

	report, err := c.Scheduler.Drain(r.Context())
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    report,
	})
}

func (c *PipelineController) publishDrainRequest(w http.ResponseWriter) {
	err := c.Broker.Publish(queue.TopicDrainRequested, queue.Event{
		Type:       queue.TopicDrainRequested,
		OccurredAt: time.Now(),
	})
	if err != nil {
		handler.WriteError(w, c.Log, err)
		return
	}
	handler.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"data":    map[string]interface{}{"queued": true},
	})
}
