package server

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleEventStream streams engine events to a websocket client as JSON.
// Each client gets its own bus subscription; slow clients drop events at the
// bus rather than stalling the pipeline.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		s.writeError(w, http.StatusNotFound, "event bus not configured")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	sub := s.cfg.Bus.Subscribe()
	s.log.Debug().Msg("Event stream client connected")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				s.log.Debug().Err(err).Msg("Event stream client disconnected")
				return
			}
		}
	}
}
