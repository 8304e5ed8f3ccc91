package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
	logpkg "github.com/ebogdum/cloudfs/core/log"
)

// uploadResponse is the body returned for a stored file
type uploadResponse struct {
	Filepath string   `json:"filepath"`
	Size     int64    `json:"size"`
	MimeType string   `json:"mime_type"`
	Tags     []string `json:"tags"`
}

// V1PostFile handles POST /v1/files/{path}: the request body is the file content.
// Tags may be attached with ?tags=a,b. An existing path is a conflict; files are
// never overwritten.
func V1PostFile(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := filePath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		md, err := engine.PutFile(r.Context(), p, r.Body, core.PutOptions{
			DeclaredSize: r.ContentLength,
			ContentType:  r.Header.Get("Content-Type"),
			Tags:         queryTags(r),
		})
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		SendJSONResponse(w, logger, uploadResponse{
			Filepath: md.Filepath,
			Size:     md.Size,
			MimeType: md.MimeType,
			Tags:     md.Tags,
		})

		logger.Info("File uploaded",
			logpkg.Path("path", md.Filepath),
			zap.Int64("size", md.Size),
			zap.String("request_id", requestID(r)))
	}
}
