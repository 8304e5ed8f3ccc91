package handlers

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
	logpkg "github.com/ebogdum/cloudfs/core/log"
	"github.com/ebogdum/cloudfs/metadata"
)

// V1GetFile handles GET /v1/files/{path}: streams the stored bytes with the
// stored MIME type. Range requests are honored when the byte store is seekable.
func V1GetFile(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := filePath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		reader, md, err := engine.GetFile(r.Context(), p)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		defer reader.Close()

		h := w.Header()
		h.Set("Content-Type", md.MimeType)
		h.Set("X-CloudFS-Size", strconv.FormatInt(md.Size, 10))
		h.Set("X-CloudFS-Tags", strings.Join(md.Tags, ","))
		h.Set("X-CloudFS-Uploaded-At", md.UploadedAt.UTC().Format(http.TimeFormat))

		if seeker, ok := reader.(io.ReadSeeker); ok {
			http.ServeContent(w, r, path.Base(md.Filepath), md.UpdatedAt, seeker)
		} else {
			h.Set("Content-Length", strconv.FormatInt(md.Size, 10))
			h.Set("Last-Modified", md.UpdatedAt.UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
			if _, err := io.Copy(w, reader); err != nil {
				logger.Warn("Failed to stream file content", logpkg.Path("path", p), zap.Error(err))
				return
			}
		}

		logger.Debug("File downloaded", logpkg.Path("path", p), zap.Int64("size", md.Size))
	}
}

// fileListResponse is the body of GET /v1/files
type fileListResponse struct {
	Files  []*metadata.FileMetadata `json:"files"`
	Total  int                      `json:"total"`
	Offset int                      `json:"offset"`
	Limit  int                      `json:"limit"`
}

// V1ListFiles handles GET /v1/files?tag=&offset=&limit=
func V1ListFiles(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		files, total, err := engine.ListFiles(r.Context(), core.ListOptions{
			Tag:    r.URL.Query().Get("tag"),
			Offset: offset,
			Limit:  limit,
		})
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		SendJSONResponse(w, logger, fileListResponse{
			Files:  files,
			Total:  total,
			Offset: offset,
			Limit:  engine.PageLimit(limit),
		})
	}
}
