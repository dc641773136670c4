package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/config"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/storage"
)

// SubmitRequest is one chunk as received from a client.
type SubmitRequest struct {
	FileID      string
	Index       int
	TotalChunks int
	Mode        string
	Payload     []byte
}

type SubmitResult struct {
	Accepted        bool  `json:"accepted"`
	SessionComplete bool  `json:"session_complete"`
	Received        int   `json:"received"`
	TotalChunks     int   `json:"total_chunks"`
	Missing         []int `json:"missing,omitempty"`
}

// Manager persists chunks into the raw zone and reports session completeness.
// It keeps no per-session memory: completeness is always re-read from the
// store, so any instance can serve any chunk.
type Manager struct {
	store storage.ObjectStore
	cfg   config.UploadConfig
	now   func() time.Time
}

func NewManager(store storage.ObjectStore, cfg config.UploadConfig) *Manager {
	return &Manager{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// SubmitChunk validates and stores one chunk. Re-submitting an index
// overwrites it. Storage failures come back as STORAGE_UNAVAILABLE so the
// client can retry with backoff.
func (m *Manager) SubmitChunk(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	mode, err := m.validate(req)
	if err != nil {
		return nil, err
	}

	if err := m.ensureManifest(ctx, req.FileID, req.TotalChunks, mode); err != nil {
		return nil, err
	}

	chunk := models.NewChunkRecord(req.FileID, req.Index, req.Payload)
	if err := m.store.Put(ctx, storage.RawChunkKey(chunk.FileID, chunk.Index), chunk.Payload); err != nil {
		log.Printf("Upload Session: failed to store chunk %d of %s: %v", chunk.Index, chunk.FileID, err)
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to store chunk")
	}

	sess, err := m.loadChunks(ctx, req.FileID, req.TotalChunks, mode)
	if err != nil {
		return nil, err
	}

	missing := sess.Missing()
	result := &SubmitResult{
		Accepted:        true,
		SessionComplete: len(missing) == 0,
		Received:        len(sess.ReceivedChunks),
		TotalChunks:     sess.TotalChunks,
		Missing:         missing,
	}

	log.Printf("Upload Session: stored chunk %d/%d of %s (%d bytes, received=%d, complete=%t)",
		chunk.Index+1, req.TotalChunks, chunk.FileID, chunk.Size, result.Received, result.SessionComplete)

	return result, nil
}

func (m *Manager) validate(req SubmitRequest) (models.Mode, error) {
	if err := storage.ValidateFileID(req.FileID); err != nil {
		return "", err
	}

	if req.TotalChunks < 1 || req.TotalChunks > m.cfg.MaxChunks {
		return "", apperrors.Newf(apperrors.CodeOutOfRange,
			"total_chunks %d outside [1, %d]", req.TotalChunks, m.cfg.MaxChunks)
	}
	if req.Index < 0 || req.Index >= req.TotalChunks {
		return "", apperrors.Newf(apperrors.CodeOutOfRange,
			"chunk_index %d outside [0, %d)", req.Index, req.TotalChunks)
	}

	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInvalidChunk, "invalid mode")
	}

	if len(req.Payload) == 0 {
		return "", apperrors.New(apperrors.CodeInvalidChunk, "empty chunk payload")
	}
	if int64(len(req.Payload)) > m.cfg.MaxChunkBytes {
		return "", apperrors.Newf(apperrors.CodeInvalidChunk,
			"chunk of %d bytes exceeds limit of %d", len(req.Payload), m.cfg.MaxChunkBytes)
	}

	return mode, nil
}

// ensureManifest creates the session manifest if this is the first chunk to
// land, or checks the declared total against it otherwise.
func (m *Manager) ensureManifest(ctx context.Context, fileID string, totalChunks int, mode models.Mode) error {
	manifest := models.SessionManifest{
		FileID:      fileID,
		TotalChunks: totalChunks,
		Mode:        mode,
		CreatedAt:   m.now().UTC(),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode manifest")
	}

	err = m.store.PutIfAbsent(ctx, storage.ManifestKey(fileID), data)
	if err == nil {
		log.Printf("Upload Session: created session %s (total_chunks=%d, mode=%s)", fileID, totalChunks, mode)
		return nil
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to create session manifest")
	}

	existing, err := m.Manifest(ctx, fileID)
	if err != nil {
		return err
	}
	if existing.TotalChunks != totalChunks {
		return apperrors.Newf(apperrors.CodeOutOfRange,
			"total_chunks %d does not match session total %d", totalChunks, existing.TotalChunks)
	}
	if existing.Mode != mode {
		log.Printf("Upload Session: ignoring mode %s for %s, session was created with %s", mode, fileID, existing.Mode)
	}
	return nil
}

// Manifest reads the session manifest. A missing manifest is NOT_FOUND.
func (m *Manager) Manifest(ctx context.Context, fileID string) (*models.SessionManifest, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	data, err := m.store.Get(ctx, storage.ManifestKey(fileID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no upload session for %s", fileID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read session manifest")
	}

	var manifest models.SessionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, fmt.Sprintf("corrupt manifest for %s", fileID))
	}
	return &manifest, nil
}

// Session rebuilds the FileSession from the store.
func (m *Manager) Session(ctx context.Context, fileID string) (*models.FileSession, error) {
	manifest, err := m.Manifest(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return m.loadChunks(ctx, fileID, manifest.TotalChunks, manifest.Mode)
}

// SessionWithTotal rebuilds a session without a manifest, trusting the
// caller's chunk count.
func (m *Manager) SessionWithTotal(ctx context.Context, fileID string, totalChunks int) (*models.FileSession, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}
	if totalChunks < 1 || totalChunks > m.cfg.MaxChunks {
		return nil, apperrors.Newf(apperrors.CodeOutOfRange,
			"total_chunks %d outside [1, %d]", totalChunks, m.cfg.MaxChunks)
	}
	return m.loadChunks(ctx, fileID, totalChunks, models.ModeConversational)
}

func (m *Manager) loadChunks(ctx context.Context, fileID string, totalChunks int, mode models.Mode) (*models.FileSession, error) {
	keys, err := m.store.List(ctx, storage.RawPrefix(fileID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to list chunks")
	}

	var received []int
	for _, key := range keys {
		id, index, ok := storage.ParseChunkKey(key)
		if !ok || id != fileID || index >= totalChunks {
			continue
		}
		received = append(received, index)
	}

	return &models.FileSession{
		FileID:         fileID,
		TotalChunks:    totalChunks,
		ReceivedChunks: models.SortedUnique(received),
		Mode:           mode,
	}, nil
}
