package assets

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"modelhub_back/metrics"
	"modelhub_back/storage"
)

const (
	isoMillis = "2006-01-02T15:04:05.000Z"

	// multipartOverhead covers boundaries, part headers and small form fields around
	// the uploaded file.
	multipartOverhead int64 = 1 << 20

	msgUploadTooLarge = "File exceeds the upload size limit."
)

type Handler struct {
	service     *Service
	logger      *logrus.Logger
	uploadLimit int64
}

type HandlerOption func(*Handler)

// WithUploadLimit caps the size of an upload request body while it is being read.
func WithUploadLimit(maxBytes int64) HandlerOption {
	return func(h *Handler) {
		if maxBytes > 0 {
			h.uploadLimit = maxBytes
		}
	}
}

type uploadResponse struct {
	URL      string `json:"url"`
	Pathname string `json:"pathname"`
	FilePath string `json:"filePath"`
	Size     int64  `json:"size"`
}

func NewHandler(service *Service, logger *logrus.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the resource API under /api and the health probe.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")

	models := api.Group("/models")
	models.GET("", h.handleListModels)
	models.POST("", h.handleCreateModel)
	models.GET("/:id", h.handleGetModel)
	models.PUT("/:id", h.handleUpdateModel)
	models.PATCH("/:id", h.handleUpdateModel)
	models.DELETE("/:id", h.handleDeleteModel)
	models.GET("/:id/materials", h.handleListModelMaterials)

	materials := api.Group("/materials")
	materials.GET("", h.handleListMaterials)
	materials.POST("", h.handleCreateMaterial)
	materials.DELETE("/:id", h.handleDeleteMaterial)

	api.POST("/upload", h.handleUpload)
	router.GET("/health", h.handleHealth)
}

func (h *Handler) handleListModels(c *gin.Context) {
	models, err := h.service.ListModels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

func (h *Handler) handleGetModel(c *gin.Context) {
	model, err := h.service.GetModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

func (h *Handler) handleCreateModel(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	in, err := DecodeModelInput(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	model, err := h.service.CreateModel(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, model)
}

func (h *Handler) handleUpdateModel(c *gin.Context) {
	// A malformed id is reported before the body is looked at.
	if _, err := ParseModelID(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	patch, err := DecodeModelPatch(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	model, err := h.service.UpdateModel(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

func (h *Handler) handleDeleteModel(c *gin.Context) {
	if err := h.service.DeleteModel(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleListMaterials(c *gin.Context) {
	materials, err := h.service.ListMaterials(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (h *Handler) handleListModelMaterials(c *gin.Context) {
	materials, err := h.service.ListMaterialsByModel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (h *Handler) handleCreateMaterial(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	in, err := DecodeMaterialInput(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	material, err := h.service.CreateMaterial(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, material)
}

func (h *Handler) handleDeleteMaterial(c *gin.Context) {
	if err := h.service.DeleteMaterial(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleUpload(c *gin.Context) {
	if h.uploadLimit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadLimit+multipartOverhead)
	}
	header, err := c.FormFile("file")
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		metrics.RecordUpload(false)
		h.fail(c, &Failure{Kind: ErrValidation, Message: msgUploadTooLarge, Cause: storage.ErrTooLarge})
		return
	}
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			h.logger.WithError(err).Debug("assets: unreadable upload form")
		}
		_, err = h.service.Upload(c.Request.Context(), "", nil)
		h.fail(c, err)
		return
	}

	src, err := header.Open()
	if err != nil {
		h.fail(c, &Failure{Kind: ErrStorage, Message: "open upload failed", Cause: err})
		return
	}
	defer src.Close()

	stored, err := h.service.Upload(c.Request.Context(), header.Filename, src)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponse{
		URL:      stored.Ref,
		Pathname: stored.Ref,
		FilePath: stored.Ref,
		Size:     stored.Size,
	})
}

func (h *Handler) handleHealth(c *gin.Context) {
	timestamp := time.Now().UTC().Format(isoMillis)
	if err := h.service.Ping(c.Request.Context()); err != nil {
		h.logger.WithError(err).Warn("assets: record store unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "degraded",
			"database":  "unreachable",
			"timestamp": timestamp,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": timestamp,
	})
}

// readBody decodes a JSON object body. An empty body reads as an empty object.
func (h *Handler) readBody(c *gin.Context) (map[string]json.RawMessage, bool) {
	body := map[string]json.RawMessage{}
	if c.Request.Body == nil {
		return body, true
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be a JSON object."})
		return nil, false
	}
	if body == nil {
		body = map[string]json.RawMessage{}
	}
	return body, true
}

// fail writes the response for err. Storage failures are logged and answered with a
// generic message so store internals never reach the caller.
func (h *Handler) fail(c *gin.Context, err error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = &Failure{Kind: ErrStorage, Message: "unexpected failure", Cause: err}
	}

	switch {
	case errors.Is(failure, ErrValidation):
		status := http.StatusBadRequest
		if errors.Is(failure, storage.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": failure.Message})
	case errors.Is(failure, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": failure.Message})
	case errors.Is(failure, ErrReferential):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": failure.Message, "details": failure.Details})
	default:
		_ = c.Error(failure)
		h.logger.WithError(failure).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("assets: request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
