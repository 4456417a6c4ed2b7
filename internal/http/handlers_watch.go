package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = watchPongWait * 9 / 10
)

// WatchHandlers streams committed job records over a websocket.
type WatchHandlers struct {
	Status   StatusReader
	Changes  core.ChangeSubscriber
	Upgrader websocket.Upgrader
	Logger   *slog.Logger
}

// Watch handles GET /api/jobs/{id}/watch. The current record is sent right after
// the upgrade, followed by every committed change. The server closes the stream
// after a terminal record.
func (h *WatchHandlers) Watch(w http.ResponseWriter, r *http.Request) {
	existing, err := h.Status.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	// Notifications carry the stored ID, which may differ in case from the path.
	jobID := existing.ID

	// Subscribe before reading the snapshot so no change can fall in between.
	unsub, updates := h.Changes.Subscribe(jobID)
	defer unsub()

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.Logger.WarnContext(r.Context(), "websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readPump(ctx, cancel, conn)

	snapshot, err := h.Status.GetJob(ctx, jobID)
	if err != nil {
		h.closeWith(conn, websocket.CloseInternalServerErr, "job lookup failed")
		return
	}
	stream := watchStream{conn: conn}
	if done, err := stream.send(*snapshot); err != nil || done {
		h.finish(ctx, conn, jobID, err)
		return
	}

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-updates:
			if !ok {
				h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if done, err := stream.send(job); err != nil || done {
				h.finish(ctx, conn, jobID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and cancels the stream when the client goes away.
func (h *WatchHandlers) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	for ctx.Err() == nil {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *WatchHandlers) finish(ctx context.Context, conn *websocket.Conn, jobID string, err error) {
	if err != nil {
		if ctx.Err() == nil {
			h.Logger.DebugContext(ctx, "watch stream write failed", "job_id", jobID, "error", err)
		}
		return
	}
	h.closeWith(conn, websocket.CloseNormalClosure, "job finished")
}

func (h *WatchHandlers) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}

// watchStream suppresses consecutive identical records.
type watchStream struct {
	conn *websocket.Conn
	last *model.ResearchJob
}

// send writes job unless it repeats the previous frame. It reports whether the
// job is terminal.
func (s *watchStream) send(job model.ResearchJob) (bool, error) {
	if s.last != nil && s.last.Status == job.Status && s.last.UpdatedAt.Equal(job.UpdatedAt) {
		return job.Status.IsTerminal(), nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	if err := s.conn.WriteJSON(job); err != nil {
		return false, err
	}
	s.last = &job
	return job.Status.IsTerminal(), nil
}
