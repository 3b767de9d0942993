package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/SPCG-NEST/daemon/internal/events"
)

// heartbeatInterval keeps idle streams open through proxies.
var heartbeatInterval = 30 * time.Second

// handleEvents streams a daemon's pipeline events as Server-Sent Events.
//
//	GET /v1/daemons/{pubkey}/events
//
//	event: completed
//	data: {"type":"completed","turn_id":"...","daemon_pubkey":"abc",...}
//
// The stream stays open until the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	subject := events.WildcardSubject(c.Param("pubkey"))

	msgs := make(chan *nats.Msg, 16)
	sub, err := s.nats.ChanSubscribe(subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()
	// The subscription must reach the server before the client is told the
	// stream is open, or early events are lost.
	if err := s.nats.Flush(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(200)
	c.Response().Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			eventType := msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]
			if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", eventType, msg.Data); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return nil
			}
			c.Response().Flush()

		case <-ticker.C:
			fmt.Fprint(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
