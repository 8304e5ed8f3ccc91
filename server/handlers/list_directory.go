package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
)

// V1ListDirectory handles GET /v1/directories/{path}. Folders are the immediate
// sub-folders of path; files are the entries stored directly in it. The root is
// /v1/directories/ and is listed even when empty.
func V1ListDirectory(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix, err := wildcardPath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		dir, err := engine.ListDirectory(r.Context(), prefix)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		SendJSONResponse(w, logger, dir)
	}
}
