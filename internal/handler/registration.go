package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// RegisterCertificate handles POST /certificates (operator-guarded).
func (h *Handler) RegisterCertificate(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.CertificateRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	if err := h.engine.RegisterCertificate(ctx, &req); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("certificate registered",
		zap.String("entity_id", req.EntityID),
		zap.Int("key_version", req.KeyVersion),
	)
	c.JSON(http.StatusCreated, gin.H{"status_code": model.StatusOK})
}

// RegisterSecret handles POST /secrets (operator-guarded).
func (h *Handler) RegisterSecret(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.SecretRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	if err := h.engine.RegisterSecret(ctx, &req); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("secret registered",
		zap.String("entity_id", req.EntityID),
		zap.Int("key_version", req.KeyVersion),
	)
	c.JSON(http.StatusCreated, gin.H{"status_code": model.StatusOK})
}

// RegisterContract handles POST /contracts.
func (h *Handler) RegisterContract(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.ContractRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	if err := h.engine.RegisterContract(ctx, &req); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status_code": model.StatusOK})
}

// RegisterFunction handles POST /functions.
func (h *Handler) RegisterFunction(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.FunctionRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	if err := h.engine.RegisterFunction(ctx, &req); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status_code": model.StatusOK})
}
