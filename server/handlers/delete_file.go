package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
	logpkg "github.com/ebogdum/cloudfs/core/log"
)

// V1DeleteFile handles DELETE /v1/files/{path}
func V1DeleteFile(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := filePath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		if err := engine.DeleteFile(r.Context(), p); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		SendJSONResponse(w, logger, map[string]string{"filepath": p})
		logger.Info("File deleted", logpkg.Path("path", p), zap.String("request_id", requestID(r)))
	}
}
