package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// Execute handles POST /contracts/execute — runs a signed contract
// execution request and returns its result with the produced proofs.
func (h *Handler) Execute(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.ContractExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "malformed request body",
		})
		return
	}

	result, err := h.engine.Execute(ctx, &req)
	if err != nil {
		ledgerExecutionsTotal.WithLabelValues(string(model.CodeOf(err))).Inc()
		h.respondError(c, err)
		return
	}
	ledgerExecutionsTotal.WithLabelValues(string(model.StatusOK)).Inc()
	ledgerProofsTotal.Add(float64(len(result.LedgerProofs)))

	c.JSON(http.StatusOK, gin.H{
		"status_code":     model.StatusOK,
		"contract_result": result.ContractResult,
		"function_result": result.FunctionResult,
		"ledger_proofs":   result.LedgerProofs,
		"auditor_proofs":  result.AuditorProofs,
	})
}
