package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/alanyoungcy/outcome-amm/internal/blob/s3"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// ArchiveHandler serves archived market data from object storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. blobs may be nil when no
// object store is configured; every route then answers 404.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// ListArchive lists the archived objects of one market.
// GET /api/archive/{id}
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	infos, err := h.blobs.List(r.Context(), "markets/"+pathParam(r, "id")+"/")
	if err != nil {
		writeServiceError(w, r, h.logger, "list archive", err)
		return
	}
	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveObject{Path: info.Path, Size: info.Size, LastModified: info.LastModified})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": out})
}

// GetSnapshot streams the archived state snapshot of one market.
// GET /api/archive/{id}/snapshot
func (h *ArchiveHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	rc, err := h.blobs.Get(r.Context(), s3blob.SnapshotPath(pathParam(r, "id")))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		writeServiceError(w, r, h.logger, "get snapshot", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: snapshot stream interrupted",
			slog.String("error", err.Error()),
		)
	}
}
