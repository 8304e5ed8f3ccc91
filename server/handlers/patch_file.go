package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
)

// maxPatchBody bounds the JSON body of a PATCH request
const maxPatchBody = 64 << 10

// PatchRequest is the body of PATCH /v1/files/{path}
type PatchRequest struct {
	NewFilepath string   `json:"new_filepath"`
	AddTags     []string `json:"add_tags"`
	RemoveTags  []string `json:"remove_tags"`
}

// patchResponse describes the file after a patch
type patchResponse struct {
	Filepath  string    `json:"filepath"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// V1PatchFile handles PATCH /v1/files/{path}: tags are added, then removed, then the
// file is renamed when new_filepath is set. Nothing changes if any step fails.
func V1PatchFile(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := filePath(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		var req PatchRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				err = &badRequest{message: "request body is empty"}
			} else {
				err = &badRequest{message: "invalid patch body: " + err.Error()}
			}
			SendErrorResponse(w, r, logger, err)
			return
		}

		md, err := engine.PatchFile(r.Context(), p, core.Patch{
			NewPath:    req.NewFilepath,
			AddTags:    req.AddTags,
			RemoveTags: req.RemoveTags,
		})
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		SendJSONResponse(w, logger, patchResponse{
			Filepath:  md.Filepath,
			Tags:      md.Tags,
			UpdatedAt: md.UpdatedAt,
		})
	}
}
