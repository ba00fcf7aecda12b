package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// Validate handles POST /ledgers/validate — re-walks a proof chain range.
// Findings are reported with HTTP 200: detecting tampering is a successful
// validation, distinguished by the status code in the body.
func (h *Handler) Validate(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.LedgerValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	result, err := h.validator.Validate(ctx, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ledgerValidationsTotal.WithLabelValues(string(result.Code)).Inc()

	c.JSON(http.StatusOK, result)
}
