package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"teleconsult/internal/calls"
	"teleconsult/internal/dispatch"
	"teleconsult/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 15 * time.Second

// IncomingEvents streams incoming call prompts for the authenticated doctor
// as server-sent events.
func (h Handlers) IncomingEvents(c *gin.Context) {
	receiverID := actor(c).UserID
	h.stream(c, func(ctx context.Context, sink dispatch.Sink) error {
		return dispatch.RunCalleeInbox(ctx, h.Store, receiverID, sink)
	})
}

// CallEvents streams one call's progress to its parties until it ends.
func (h Handlers) CallEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Calls.Get(c.Request.Context(), actor(c), id); err != nil {
		callError(c, err)
		return
	}
	h.stream(c, func(ctx context.Context, sink dispatch.Sink) error {
		return dispatch.RunCallerWatcher(ctx, h.Store, id, sink)
	})
}

// AcceptIncoming resolves an incoming prompt's accept button into an outcome.
func (h Handlers) AcceptIncoming(c *gin.Context) {
	res, err := h.Actions.Accept(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) DeclineIncoming(c *gin.Context) {
	res, err := h.Actions.Decline(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// stream runs feed in the background and writes its notifications as SSE
// until the feed ends or the client goes away.
func (h Handlers) stream(c *gin.Context, feed func(ctx context.Context, sink dispatch.Sink) error) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logger.FromGin(c)

	sink := dispatch.NewChanSink(16)
	done := make(chan error, 1)
	go func() { done <- feed(ctx, sink) }()
	finished := false
	defer func() {
		cancel()
		if !finished {
			<-done
		}
	}()

	interval := h.Heartbeat
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	send := func(n dispatch.Notification) {
		c.SSEvent(string(n.Kind), n)
		c.Writer.Flush()
	}

	for {
		select {
		case n := <-sink.C:
			send(n)
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			c.Writer.Flush()
		case err := <-done:
			finished = true
			// The feed may have queued its last notifications before returning.
			for drained := false; !drained; {
				select {
				case n := <-sink.C:
					send(n)
				default:
					drained = true
				}
			}
			if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				log.Warn("notification feed ended", "err", err)
				body := gin.H{"error": "feed interrupted"}
				switch {
				case errors.Is(err, calls.ErrNotFound):
					body["error"] = "call no longer exists"
				case errors.Is(err, calls.ErrFeedInterrupted):
					// Reopening the stream delivers a fresh snapshot.
					body["reconnect"] = true
				}
				c.SSEvent("error", body)
				c.Writer.Flush()
			}
			return
		case <-ctx.Done():
			return
		case <-h.Done:
			return
		}
	}
}
