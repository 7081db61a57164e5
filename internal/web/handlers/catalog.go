package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/initializer"
)

const maxCatalogBytes = 512 << 20

// CatalogHandler exposes the reference catalog of an initializer.
type CatalogHandler struct {
	in     *initializer.Initializer
	logger *zap.Logger
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(in *initializer.Initializer, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{in: in, logger: logger}
}

// Get returns catalog statistics.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.in.Catalog().Stats())
}

// Replace swaps in a catalog uploaded in the native format. The request is
// rejected with 409 while a frame is being matched.
func (h *CatalogHandler) Replace(w http.ResponseWriter, r *http.Request) {
	c, err := catalog.ReadNative(http.MaxBytesReader(w, r.Body, maxCatalogBytes))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid catalog: "+err.Error())
		return
	}

	if err := h.in.SetCatalog(c); err != nil {
		respondMatcherError(w, r, h.logger, "replace catalog", err)
		return
	}

	h.logger.Info("catalog replaced over HTTP", zap.Int("pages", c.NumPages()), zap.Int("features", c.Len()))
	respondJSON(w, http.StatusOK, h.in.Catalog().Stats())
}
