package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/feed"
	"github.com/newsrank/backend/pkg/logger"
)

type FeedHandler struct {
	broadcaster *feed.Broadcaster
}

func NewFeedHandler(broadcaster *feed.Broadcaster) *FeedHandler {
	return &FeedHandler{
		broadcaster: broadcaster,
	}
}

// HandleConnection streams every stored original to the subscriber until the
// socket closes. A reader goroutine drains client frames so close frames and
// read errors are noticed.
func (h *FeedHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Feed subscriber connected")

	events := h.broadcaster.Subscribe()
	defer func() {
		h.broadcaster.Unsubscribe(events)
		c.Close()
		logger.Info("Feed subscriber disconnected")
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Warn("Failed to write feed event", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
