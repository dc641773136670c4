package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketMessage struct {
	Type   string               `json:"type"`
	FileID string               `json:"file_id,omitempty"`
	Status string               `json:"status,omitempty"`
	Report *models.StatusReport `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// StatusStreamHandler pushes a status_update every poll interval until the
// file reaches DONE or FAILED. Each update re-derives state from storage.
func (h *Handlers) StatusStreamHandler(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	if !validFileID(w, fileID) {
		return
	}
	hint := totalHint(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader loop: only needed to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("WS: streaming status for %s", fileID)
	h.monitorFile(ctx, conn, fileID, hint)
}

func (h *Handlers) monitorFile(ctx context.Context, conn *websocket.Conn, fileID string, hint int) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		if done := h.pushStatus(ctx, conn, fileID, hint); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pushStatus sends one update and reports whether the stream should end.
func (h *Handlers) pushStatus(ctx context.Context, conn *websocket.Conn, fileID string, hint int) bool {
	report, err := h.dispatcher.Check(ctx, fileID, hint)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		msg := WebSocketMessage{Type: "error", FileID: fileID, Error: apperrors.MessageOf(err)}
		if !apperrors.IsRetryable(err) {
			h.sendMessage(conn, msg)
			return true
		}
		msg.Status = models.ClientStatusProcessing
		return !h.sendMessage(conn, msg)
	}

	if !h.sendMessage(conn, WebSocketMessage{
		Type:   "status_update",
		FileID: fileID,
		Status: report.Status,
		Report: report,
	}) {
		return true
	}

	switch report.State {
	case models.StateDone:
		log.Printf("WS: %s completed", fileID)
		h.sendMessage(conn, WebSocketMessage{Type: "processing_complete", FileID: fileID, Status: report.Status, Report: report})
		return true
	case models.StateFailed:
		log.Printf("WS: %s failed: %s", fileID, report.Message)
		h.sendMessage(conn, WebSocketMessage{Type: "processing_failed", FileID: fileID, Status: report.Status, Error: report.Message})
		return true
	}
	return false
}

func (h *Handlers) sendMessage(conn *websocket.Conn, msg WebSocketMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("WS: failed to send %s for %s: %v", msg.Type, msg.FileID, err)
		return false
	}
	return true
}
