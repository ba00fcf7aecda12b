// Package handler exposes the ledger over HTTP: registration, contract
// execution, chain validation, and proof retrieval, plus the operational
// endpoints (health, metrics) and the middleware stack around them.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scalar-labs/scalardl-sub000/internal/engine"
	"github.com/scalar-labs/scalardl-sub000/internal/model"
	"github.com/scalar-labs/scalardl-sub000/internal/validation"
)

// Handler wires the ledger services to their HTTP routes.
type Handler struct {
	engine    *engine.Engine
	validator *validation.Service
	admin     *AdminAuth
	logger    *zap.Logger
}

// New creates a Handler.
func New(e *engine.Engine, v *validation.Service, admin *AdminAuth, logger *zap.Logger) *Handler {
	return &Handler{engine: e, validator: v, admin: admin, logger: logger}
}

// Register mounts all ledger routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	// Key registration bootstraps trust, so it is operator-guarded rather
	// than signature-guarded.
	keys := rg.Group("", h.admin.Middleware())
	{
		keys.POST("/certificates", h.RegisterCertificate)
		keys.POST("/secrets", h.RegisterSecret)
	}

	rg.POST("/contracts", h.RegisterContract)
	rg.POST("/functions", h.RegisterFunction)
	rg.POST("/contracts/execute", h.Execute)
	rg.POST("/ledgers/validate", h.Validate)
	rg.GET("/assets/:id/proof", h.GetProof)
}

// Healthz reports liveness.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps a service error to its HTTP status and JSON body.
func (h *Handler) respondError(c *gin.Context, err error) {
	code := model.CodeOf(err)
	h.logger.Debug("request failed",
		zap.String("path", c.FullPath()),
		zap.String("status_code", string(code)),
		zap.Error(err),
	)
	c.JSON(httpStatus(code), gin.H{
		"status_code": code,
		"error":       err.Error(),
	})
}

func httpStatus(code model.StatusCode) int {
	switch code {
	case model.StatusOK:
		return http.StatusOK
	case model.StatusInvalidSignature, model.StatusKeyNotFound:
		return http.StatusUnauthorized
	case model.StatusContractNotFound, model.StatusFunctionNotFound,
		model.StatusNamespaceNotFound, model.StatusAssetNotFound:
		return http.StatusNotFound
	case model.StatusConflict:
		return http.StatusConflict
	case model.StatusInvalidRequest, model.StatusContractContextualError,
		model.StatusInvalidFunction:
		return http.StatusBadRequest
	case model.StatusDatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
