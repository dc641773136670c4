package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/config"
	"subtitle-orchestrator/pkg/limiter"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/pipeline"
	"subtitle-orchestrator/pkg/session"
	"subtitle-orchestrator/pkg/storage"

	"github.com/gorilla/mux"
)

// multipart overhead allowed on top of the chunk itself
const formOverhead = 1 << 20

type Handlers struct {
	sessions      *session.Manager
	dispatcher    *pipeline.Dispatcher
	limiter       *limiter.Limiter
	maxChunkBytes int64
	pollInterval  time.Duration
}

func NewHandlers(cfg *config.Config, sessions *session.Manager, dispatcher *pipeline.Dispatcher, lim *limiter.Limiter) *Handlers {
	return &Handlers{
		sessions:      sessions,
		dispatcher:    dispatcher,
		limiter:       lim,
		maxChunkBytes: cfg.Upload.MaxChunkBytes,
		pollInterval:  cfg.Pipeline.PollInterval,
	}
}

// Register mounts every endpoint on r.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/upload_chunk", h.UploadHandler).Methods(http.MethodPost)
	r.HandleFunc("/check_status/{file_id}", h.CheckStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/results/{file_id}", h.ResultHandler).Methods(http.MethodGet)
	r.HandleFunc("/retry/{file_id}", h.RetryHandler).Methods(http.MethodPost)
	r.HandleFunc("/ws/status/{file_id}", h.StatusStreamHandler)
	r.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
}

type uploadResponse struct {
	Status          string `json:"status"`
	FileID          string `json:"file_id"`
	Index           int    `json:"index"`
	SessionComplete bool   `json:"session_complete"`
	Received        int    `json:"received"`
	TotalChunks     int    `json:"total_chunks"`
	Missing         []int  `json:"missing,omitempty"`
}

func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidChunk, "failed to parse multipart form"))
		return
	}

	index, err := strconv.Atoi(r.FormValue("chunk_index"))
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeOutOfRange, "chunk_index must be an integer"))
		return
	}
	total, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeOutOfRange, "total_chunks must be an integer"))
		return
	}

	file, _, err := r.FormFile("file_chunk")
	if err != nil {
		file, _, err = r.FormFile("chunk")
	}
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidChunk, "file_chunk is required"))
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(io.LimitReader(file, h.maxChunkBytes+1))
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidChunk, "failed to read chunk"))
		return
	}

	fileID := r.FormValue("file_id")
	res, err := h.sessions.SubmitChunk(r.Context(), session.SubmitRequest{
		FileID:      fileID,
		Index:       index,
		TotalChunks: total,
		Mode:        r.FormValue("mode"),
		Payload:     payload,
	})
	if err != nil {
		log.Printf("Upload: rejected chunk %d of %q: %v", index, fileID, err)
		writeError(w, err)
		return
	}

	log.Printf("Upload: stored chunk %d/%d of %s (%d bytes, complete=%t)", index+1, total, fileID, len(payload), res.SessionComplete)
	writeJSON(w, http.StatusOK, uploadResponse{
		Status:          "uploaded",
		FileID:          fileID,
		Index:           index,
		SessionComplete: res.SessionComplete,
		Received:        res.Received,
		TotalChunks:     res.TotalChunks,
		Missing:         res.Missing,
	})
}

func (h *Handlers) CheckStatusHandler(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]

	report, err := h.dispatcher.Check(r.Context(), fileID, totalHint(r))
	if err != nil {
		writeStatusError(w, fileID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) ResultHandler(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]

	data, err := h.dispatcher.Result(r.Context(), fileID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+fileID+`.srt"`)
	if _, err := w.Write(data); err != nil {
		log.Printf("API: failed to write result for %s: %v", fileID, err)
	}
}

func (h *Handlers) RetryHandler(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]

	report, err := h.dispatcher.Retry(r.Context(), fileID)
	if err != nil {
		writeStatusError(w, fileID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"in_flight": h.limiter.InFlight(),
		"capacity":  h.limiter.Capacity(),
	})
}

func totalHint(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("total_chunks"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusCode maps an error code to the HTTP status returned to clients.
func StatusCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidIdentifier, apperrors.CodeOutOfRange, apperrors.CodeInvalidChunk:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeLockContended:
		return http.StatusConflict
	case apperrors.CodeStorageUnavailable, apperrors.CodeDownstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	if status >= 500 {
		log.Printf("API: %v", err)
	}
	writeJSON(w, status, errorResponse{
		Error:   apperrors.CodeOf(err),
		Message: apperrors.MessageOf(err),
	})
}

// writeStatusError answers a status poll. Validation errors are reported as
// such; storage and internal errors surface as processing or failed so
// clients never see raw backend failures.
func writeStatusError(w http.ResponseWriter, fileID string, err error) {
	if apperrors.IsValidation(err) {
		writeError(w, err)
		return
	}

	log.Printf("API: status check for %s failed: %v", fileID, err)
	report := &models.StatusReport{
		FileID:  fileID,
		Status:  models.ClientStatusFailed,
		Message: "internal error",
		Code:    apperrors.CodeOf(err),
	}
	status := http.StatusInternalServerError
	if apperrors.IsRetryable(err) {
		w.Header().Set("Retry-After", "5")
		report.Status = models.ClientStatusProcessing
		report.Message = "status temporarily unavailable, retry shortly"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}

// validFileID rejects bad identifiers before a websocket upgrade.
func validFileID(w http.ResponseWriter, fileID string) bool {
	if err := storage.ValidateFileID(fileID); err != nil {
		writeError(w, err)
		return false
	}
	return true
}
