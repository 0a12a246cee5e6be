package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/xeptore/tgmd/iterutil"
	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/task"
)

const (
	eventSnapshot = "snapshot"
	eventUpsert   = "upsert"
	eventRemove   = "remove"
)

type removePayload struct {
	ID string `json:"id"`
}

// stream pushes the full task list followed by every change as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub := s.registry.Subscribe()
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ids := iterutil.Int[uint64](0)
	send := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if nil != err {
			s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode stream event")
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ids.Next(), event, data); nil != err {
			return false
		}
		return nil == rc.Flush()
	}

	if !send(eventSnapshot, s.registry.List()) {
		return
	}

	interval := s.opts.KeepaliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	keepalive := time.NewTicker(interval)
	defer keepalive.Stop()

	logger := s.logger.With().Str("remote_addr", r.RemoteAddr).Logger()
	logger.Debug().Msg("Stream client connected")
	defer logger.Debug().Msg("Stream client disconnected")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); nil != err {
				return
			}
			if err := rc.Flush(); nil != err {
				logger.Debug().Func(log.Flaw(err)).Msg("Failed to flush keepalive")
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			var sent bool
			switch ev.Type {
			case task.EventUpsert:
				sent = send(eventUpsert, ev.Task)
			case task.EventRemove:
				sent = send(eventRemove, removePayload{ID: ev.ID})
			}
			if !sent {
				return
			}
		}
	}
}
