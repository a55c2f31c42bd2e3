package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/data/repos"
	"github.com/lifequery/backend/internal/ingest"
	"github.com/lifequery/backend/internal/pkg/dbctx"
	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/sse"
	"github.com/lifequery/backend/internal/tasks"
)

type IngestHandler struct {
	svc       *ingest.Service
	manager   *tasks.Manager
	repos     *repos.Repos
	importDir string
	log       *logger.Logger
}

func NewIngestHandler(
	svc *ingest.Service,
	manager *tasks.Manager,
	r *repos.Repos,
	importDir string,
	log *logger.Logger,
) *IngestHandler {
	return &IngestHandler{
		svc:       svc,
		manager:   manager,
		repos:     r,
		importDir: importDir,
		log:       log.With("handler", "IngestHandler"),
	}
}

type ingestOp func(ctx context.Context, emit ingest.EmitFunc) (ingest.RunCounts, error)

// runStreaming executes one ingest-class operation under the single task
// slot, streaming progress frames as SSE until the terminal frame.
func (h *IngestHandler) runStreaming(c *gin.Context, operation string, op ingestOp) {
	task, err := h.manager.Begin(operation)
	if err != nil {
		RespondError(c, http.StatusConflict, err)
		return
	}
	defer h.manager.Finish(task)

	stream := sse.NewStream(c.Writer, h.log)
	if stream == nil {
		RespondError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	emit := func(ev ingest.Event) error {
		return stream.Send(ev)
	}
	counts, runErr := op(task.Context(), emit)

	final := ingest.Event{
		Type:             ingest.EventDone,
		Inserted:         counts.MessagesAdded,
		SkippedDuplicate: counts.SkippedDuplicate,
		SkippedEmpty:     counts.SkippedEmpty,
		ChunksCreated:    counts.ChunksCreated,
		ChunksEmbedded:   counts.ChunksEmbedded,
		ChatsImported:    counts.ChatsImported,
	}
	switch {
	case errors.Is(runErr, context.Canceled):
		final.Type = ingest.EventCancelled
		final.Message = "Operation cancelled"
	case runErr != nil:
		final.Type = ingest.EventError
		final.Message = runErr.Error()
	}
	_ = stream.Send(final)
	stream.Done()
}

func (h *IngestHandler) Sync(c *gin.Context) {
	h.runStreaming(c, "sync", h.svc.Sync)
}

func (h *IngestHandler) Process(c *gin.Context) {
	h.runStreaming(c, "process", h.svc.Process)
}

// ImportUpload receives a JSON export as multipart form data, spools it to
// the import directory and runs the import pipeline.
func (h *IngestHandler) ImportUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing file"))
		return
	}
	if file.Size > ingest.MaxImportFileSize {
		RespondError(c, http.StatusRequestEntityTooLarge,
			fmt.Errorf("file too large, maximum size is %dMB", ingest.MaxImportFileSize/(1024*1024)))
		return
	}
	if err := os.MkdirAll(h.importDir, 0o755); err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	dst := filepath.Join(h.importDir, fmt.Sprintf("upload-%d.json", time.Now().UnixNano()))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}

	username := c.PostForm("username")
	h.runStreaming(c, "import", func(ctx context.Context, emit ingest.EmitFunc) (ingest.RunCounts, error) {
		defer os.Remove(dst)
		return h.svc.Import(ctx, dst, username, emit)
	})
}

// ImportPath imports a file already present in the import directory. The
// name must be a bare filename; traversal out of the directory is rejected.
func (h *IngestHandler) ImportPath(c *gin.Context) {
	name := strings.TrimSpace(c.Query("filename"))
	if name == "" {
		name = strings.TrimSpace(c.Query("file"))
	}
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("invalid filename"))
		return
	}
	path := filepath.Join(h.importDir, name)
	username := c.Query("username")
	h.runStreaming(c, "import", func(ctx context.Context, emit ingest.EmitFunc) (ingest.RunCounts, error) {
		return h.svc.Import(ctx, path, username, emit)
	})
}

// ImportScan lists importable files in the import directory.
func (h *IngestHandler) ImportScan(c *gin.Context) {
	names, err := ingest.ScanImportDir(h.importDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, gin.H{"files": []string{}})
			return
		}
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": names})
}

// Reindex re-embeds every chunk and swaps in a rebuilt vector index.
// Expensive, so it requires confirm=true.
func (h *IngestHandler) Reindex(c *gin.Context) {
	if c.Query("confirm") != "true" {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("reindex requires confirm=true"))
		return
	}
	h.runStreaming(c, "reindex", h.svc.Reindex)
}

func (h *IngestHandler) Cancel(c *gin.Context) {
	if h.manager.Cancel() {
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": false, "message": "no operation running"})
}

func (h *IngestHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Status())
}

func (h *IngestHandler) Logs(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	rows, err := h.repos.SyncLog.ListRecent(dbctx.Context{Ctx: c.Request.Context()}, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": rows})
}
