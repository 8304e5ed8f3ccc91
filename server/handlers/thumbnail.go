package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
)

// V1GetThumbnail handles GET /v1/thumbnails/{path}: a JPEG preview of an image or
// video. Other file types get 415.
func V1GetThumbnail(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := filePath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		data, err := engine.Thumbnail(r.Context(), p)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			logger.Debug("Failed to write thumbnail", zap.Error(err))
		}
	}
}
