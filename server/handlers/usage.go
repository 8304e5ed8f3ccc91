package handlers

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/ebogdum/cloudfs/core"
)

// usageResponse adds human-readable sizes to core.Usage
type usageResponse struct {
	core.Usage
	Used     string `json:"used"`
	Capacity string `json:"capacity"`
}

// V1Usage handles GET /v1/usage
func V1Usage(engine *core.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage := engine.Usage()
		SendJSONResponse(w, logger, usageResponse{
			Usage:    usage,
			Used:     humanize.IBytes(uint64(max(usage.UsedBytes, 0))),
			Capacity: humanize.IBytes(uint64(max(usage.CapacityBytes, 0))),
		})
	}
}
