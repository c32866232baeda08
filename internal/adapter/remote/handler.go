package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// maxRequestBytes bounds an evaluation request body.
const maxRequestBytes = 8 << 20

// Handler serves evaluation requests from a pipeline, so one instance can act as
// the remote engine of another. Regions whose grid exceeds maxPixels are refused
// before any evaluation; zero disables the cap.
func Handler(p domain.RasterPipeline, maxPixels int64, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "decode request: " + err.Error()})
			return
		}
		node, region, err := req.Decode()
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if err := region.AOI.Validate(); err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		grid, err := region.Grid()
		if err != nil {
			sharedobs.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if maxPixels > 0 && grid.Pixels() > maxPixels {
			logger.Warn("evaluation refused", "op", node.Op(), "pixels", grid.Pixels(), "max_pixels", maxPixels)
			sharedobs.WriteJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error: fmt.Sprintf("region of %d pixels exceeds evaluation cap of %d pixels", grid.Pixels(), maxPixels),
			})
			return
		}

		raster, err := p.Evaluate(r.Context(), node, region)
		if err != nil {
			// Graph failures are deterministic; only an interrupted request is worth a retry.
			status := http.StatusUnprocessableEntity
			if r.Context().Err() != nil && errors.Is(err, r.Context().Err()) {
				status = http.StatusServiceUnavailable
			}
			logger.Error("evaluation failed", "op", node.Op(), "error", err)
			sharedobs.WriteJSON(w, status, ErrorResponse{Error: err.Error()})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, Response{Raster: EncodeRaster(raster)})
	}
}
