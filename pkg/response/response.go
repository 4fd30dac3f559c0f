package response

import (
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/internal/models"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON writes data in the envelope. An empty meta map is left out.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	env := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && len(meta[0]) > 0 {
		env.Meta = meta[0]
	}
	write(c, status, env)
}

// OK responds 200.
func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, nil)
}

// Created responds 201.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error maps err onto its public code, status, message and details. The wrapped
// cause stays server side: 5xx causes are attached to the gin context for the access log.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	write(c, appErr.Status, Envelope{Error: appErr})
}

// NoContent responds 204 and flushes the status line.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
	c.Writer.WriteHeaderNow()
}

// Attachment sends payload as a download named filename.
func Attachment(c *gin.Context, filename, contentType string, payload []byte) {
	c.Header("Content-Disposition", disposition(filename))
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, payload)
}

// ServeAttachment streams a seekable file as a download, honouring Range requests.
func ServeAttachment(c *gin.Context, filename string, content io.ReadSeeker) {
	c.Header("Content-Disposition", disposition(filename))
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, filename, time.Time{}, content)
}

func disposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func write(c *gin.Context, status int, env Envelope) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, env)
}
