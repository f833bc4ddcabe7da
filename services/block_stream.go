package services

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// StreamBlocks pushes newly mirrored blocks as server-sent events. Clients
// may resume with ?from=<height>; otherwise the stream starts above the
// current watermark.
func (s *ExplorerService) StreamBlocks(c *fiber.Ctx) error {
	next := s.Mirror.Watermark() + 1
	if v := c.Query("from"); v != "" {
		h, err := parseHeight(v)
		if err != nil {
			return invalid("from", "must be a positive block height, got %q", v)
		}
		next = h
	}

	// SSE headers
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.opts.StreamInterval)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		if _, err := w.WriteString(":\n\n"); err != nil || w.Flush() != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				var err error
				if next, err = s.writeBlockEvents(w, next); err != nil {
					// Client disconnected
					s.Logger.Debug("block stream closed", zap.Error(err))
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}

// writeBlockEvents writes every mirrored block from next up to the
// watermark and returns the height to continue from. If next was already
// evicted the stream skips ahead to the floor and says so.
func (s *ExplorerService) writeBlockEvents(w *bufio.Writer, next uint64) (uint64, error) {
	floor, watermark := s.Mirror.Range()
	if next < floor {
		fmt.Fprintf(w, "event: gap\ndata: {\"from\":%d,\"to\":%d}\n\n", next, floor-1)
		next = floor
	}
	if next > watermark {
		// keepalive, also how a dead client is noticed
		if _, err := w.WriteString(":\n\n"); err != nil {
			return next, err
		}
		return next, w.Flush()
	}

	for _, b := range s.Mirror.Blocks(next, watermark) {
		payload, err := json.Marshal(b)
		if err != nil {
			return next, err
		}
		fmt.Fprintf(w, "id: %s\nevent: block\ndata: %s\n\n", strconv.FormatUint(b.Height, 10), payload)
		next = b.Height + 1
	}
	return next, w.Flush()
}
