package documents

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"docseal/portal/portal-backend/internal/auth"
)

type Handler struct {
	service        Service
	validator      *ValidationService
	batches        *BatchOrchestrator
	streamer       *ProgressStreamer
	sweeper        Sweeper
	cleanupToken   string
	maxUploadBytes int64
	logger         *zap.Logger
}

type HandlerOptions struct {
	CleanupToken   string
	MaxUploadBytes int64
}

func NewHandler(
	service Service,
	validator *ValidationService,
	batches *BatchOrchestrator,
	streamer *ProgressStreamer,
	sweeper Sweeper,
	opts HandlerOptions,
	logger *zap.Logger,
) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &Handler{
		service:        service,
		validator:      validator,
		batches:        batches,
		streamer:       streamer,
		sweeper:        sweeper,
		cleanupToken:   opts.CleanupToken,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers the owner routes. rg must already require auth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	{
		docs.POST("/upload", h.Upload)
		docs.GET("", h.List)
		docs.POST("/batch-sign", h.BatchSign)
		docs.GET("/batches/:batch_id", h.BatchProgress)
		docs.GET("/batches/:batch_id/ws", h.BatchProgressStream)
		docs.GET("/:id", h.Get)
		docs.DELETE("/:id", h.Delete)
		docs.POST("/:id/sign", h.Sign)
		docs.GET("/:id/qr", h.QRCode)
		docs.GET("/:id/qr.png", h.QRCodeImage)
		docs.PUT("/:id/retention", h.UpdateRetention)
	}
}

// RegisterPublicRoutes registers routes that need no bearer token.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	public := rg.Group("/public")
	{
		public.GET("/validate/:id", h.ValidateMetadata)
		public.POST("/validate/:id", h.ValidateFile)
		public.GET("/documents/:id/signed.pdf", h.DownloadSigned)
	}
	rg.POST("/maintenance/cleanup", h.Cleanup)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func ownerID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}

func documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) readFormFile(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return nil, false
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	}
	return data, true
}

func parseExpiry(c *gin.Context) (*time.Time, error) {
	if v := c.PostForm("expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: expires_at must be RFC 3339", ErrInvalidInput)
		}
		return &t, nil
	}
	if v := c.PostForm("retention_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			return nil, fmt.Errorf("%w: retention_days must be a positive integer", ErrInvalidInput)
		}
		t := time.Now().UTC().AddDate(0, 0, days)
		return &t, nil
	}
	return nil, nil
}

func (h *Handler) Upload(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	content, ok := h.readFormFile(c)
	if !ok {
		return
	}
	expiresAt, err := parseExpiry(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var metadata datatypes.JSON
	if raw := c.PostForm("metadata"); raw != "" {
		if !json.Valid([]byte(raw)) {
			h.respondError(c, fmt.Errorf("%w: metadata must be JSON", ErrInvalidInput))
			return
		}
		metadata = datatypes.JSON(raw)
	}

	file, _ := c.FormFile("file")
	doc, err := h.service.UploadDocument(c.Request.Context(), UploadRequest{
		OwnerID:   owner,
		Name:      file.Filename,
		Content:   content,
		ExpiresAt: expiresAt,
		Metadata:  metadata,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) List(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	docs, err := h.service.ListDocuments(c.Request.Context(), owner)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

func (h *Handler) Get(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(c.Request.Context(), owner, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Delete(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(c.Request.Context(), owner, id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Sign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	var material SignatureMaterial
	if err := c.ShouldBindJSON(&material); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.service.SignDocument(c.Request.Context(), owner, id, material)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) QRCode(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	payload, png, err := h.service.GetQRCode(c.Request.Context(), owner, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, QRCode{
		Payload:     payload,
		ImageBase64: base64.StdEncoding.EncodeToString(png),
	})
}

func (h *Handler) QRCodeImage(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	_, png, err := h.service.GetQRCode(c.Request.Context(), owner, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) UpdateRetention(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	id, ok := documentID(c)
	if !ok {
		return
	}
	var req RetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.service.UpdateRetention(c.Request.Context(), owner, id, req.ExpiresAt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) BatchSign(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	var req BatchSignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.batches.RunBatch(c.Request.Context(), owner, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) BatchProgress(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	progress, err := h.batches.Progress(owner, c.Param("batch_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress.Snapshot())
}

func (h *Handler) BatchProgressStream(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	progress, err := h.batches.Progress(owner, c.Param("batch_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.streamer.Stream(c.Writer, c.Request, progress); err != nil {
		h.logger.Debug("progress stream ended", zap.String("batch_id", c.Param("batch_id")), zap.Error(err))
	}
}

func accessCode(c *gin.Context) string {
	if code := c.Query("code"); code != "" {
		return code
	}
	if code := c.PostForm("code"); code != "" {
		return code
	}
	return c.GetHeader("X-Access-Code")
}

func (h *Handler) respondValidation(c *gin.Context, res *VerificationResult, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
	case errors.Is(err, ErrAccessCodeRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "access_code_required", "protected": true})
	default:
		h.respondError(c, err)
	}
}

func (h *Handler) ValidateMetadata(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	res, err := h.validator.ValidateWithAccess(c.Request.Context(), id, accessCode(c), nil)
	h.respondValidation(c, res, err)
}

func (h *Handler) ValidateFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	content, ok := h.readFormFile(c)
	if !ok {
		return
	}
	res, err := h.validator.ValidateWithAccess(c.Request.Context(), id, accessCode(c), content)
	h.respondValidation(c, res, err)
}

func (h *Handler) DownloadSigned(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	url, err := h.service.SignedDownloadURL(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "not_found"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *Handler) Cleanup(c *gin.Context) {
	if h.cleanupToken != "" {
		token := c.GetHeader("X-Cleanup-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cleanupToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid cleanup token"})
			return
		}
	}
	res, err := h.sweeper.Sweep(c.Request.Context(), time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
