package handler

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/pkg/response"
)

type documentOpener interface {
	Open(ctx context.Context, token string) (io.ReadSeekCloser, string, error)
}

// DocumentHandler serves signed agreement downloads.
type DocumentHandler struct {
	documents documentOpener
}

// NewDocumentHandler constructs DocumentHandler.
func NewDocumentHandler(documents documentOpener) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Download godoc
// @Summary Download agreement PDF
// @Description Public endpoint authorised by the signed token from /checklists/{id}/document
// @Tags Agreements
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	file, name, err := h.documents.Open(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	response.ServeAttachment(c, name, file)
}
