package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scalar-labs/scalardl-sub000/internal/model"
)

// GetProof handles GET /assets/:id/proof — fetches the stored proof of one
// asset version. Query parameters:
//
//	namespace   — optional logical namespace
//	age         — version to fetch; omitted or negative means latest
//	entity_id   — requesting entity
//	key_version — requesting entity's key version
//	signature   — base64 signature over the retrieval request
func (h *Handler) GetProof(c *gin.Context) {
	ctx := c.Request.Context()

	age := -1
	if raw := c.Query("age"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"status_code": model.StatusInvalidRequest,
				"error":       "age must be an integer",
			})
			return
		}
		age = parsed
	}

	keyVersion, err := strconv.Atoi(c.DefaultQuery("key_version", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "key_version must be an integer",
		})
		return
	}

	signature, err := base64.StdEncoding.DecodeString(c.Query("signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status_code": model.StatusInvalidRequest,
			"error":       "signature must be base64",
		})
		return
	}

	req := &model.AssetProofRetrievalRequest{
		Namespace:  c.Query("namespace"),
		AssetID:    c.Param("id"),
		Age:        age,
		EntityID:   c.Query("entity_id"),
		KeyVersion: keyVersion,
		Signature:  signature,
	}

	proof, err := h.engine.Proof(ctx, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status_code": model.StatusOK,
		"proof":       proof,
	})
}
