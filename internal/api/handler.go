// Package api exposes the ledger over HTTP: record ingestion, statistics,
// batch and entry lookup, proof verification, and hash-chain inspection.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sealog-io/sealog/internal/anchor"
	"github.com/sealog-io/sealog/internal/hashchain"
	"github.com/sealog-io/sealog/internal/ledger"
	"github.com/sealog-io/sealog/pkg/merkle"
	"go.uber.org/zap"
)

// Handler wires the ledger, the optional hash chain, and the optional anchor
// manager into gin routes.
type Handler struct {
	ledger  *ledger.Ledger
	chain   *hashchain.Anchor
	manager anchor.Manager
	logger  *zap.Logger
}

// New creates a Handler. chain and manager may be nil; their routes then
// report 404 / empty results.
func New(l *ledger.Ledger, chain *hashchain.Anchor, manager anchor.Manager, logger *zap.Logger) *Handler {
	return &Handler{ledger: l, chain: chain, manager: manager, logger: logger}
}

// Register mounts all routes on rg. auth guards the ingestion route only;
// the read surface stays open.
func (h *Handler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.POST("/records", auth, h.SubmitRecord)

	lg := rg.Group("/ledger")
	{
		lg.GET("/stats", h.Stats)
		lg.GET("/batches", h.ListBatches)
		lg.GET("/batches/:id", h.GetBatch)
		lg.GET("/entries/:hash", h.GetEntry)
		lg.POST("/verify", h.VerifyProof)
	}

	ch := rg.Group("/chain")
	{
		ch.GET("", h.ChainOverview)
		ch.GET("/verify", h.ChainVerify)
	}

	an := rg.Group("/anchors")
	{
		an.GET("/health", h.AnchorHealth)
		an.GET("/results", h.AnchorResults)
	}
}

// SubmitRecord handles POST /records. The record is canonicalized, hashed,
// and queued; sealing happens later on the ledger worker, so the response is
// 202 Accepted.
func (h *Handler) SubmitRecord(c *gin.Context) {
	var payload any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be valid JSON"})
		return
	}
	if payload == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must not be null"})
		return
	}

	hash, err := h.ledger.Submit(payload)
	if err != nil {
		h.logger.Error("submit record", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not accepting records"})
		return
	}
	RecordSubmit()
	c.JSON(http.StatusAccepted, gin.H{"content_hash": hash})
}

// Stats handles GET /ledger/stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Stats())
}

// ListBatches handles GET /ledger/batches.
func (h *Handler) ListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": h.ledger.Batches()})
}

// GetBatch handles GET /ledger/batches/:id, returning the root hash plus entries.
func (h *Handler) GetBatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a non-negative integer"})
		return
	}

	root, ok := h.ledger.BatchRoot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        id,
		"root_hash": root,
		"entries":   h.ledger.EntriesByBatch(id),
	})
}

// GetEntry handles GET /ledger/entries/:hash.
func (h *Handler) GetEntry(c *gin.Context) {
	entry, ok := h.ledger.GetEntry(c.Param("hash"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

type verifyRequest struct {
	ContentHash string             `json:"content_hash" binding:"required"`
	Proof       []merkle.ProofStep `json:"proof"`
	RootHash    string             `json:"root_hash" binding:"required"`
}

// VerifyProof handles POST /ledger/verify. Unknown hashes and bad proofs
// both come back as valid=false, not as errors.
func (h *Handler) VerifyProof(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_hash and root_hash are required"})
		return
	}
	valid := h.ledger.VerifyEntry(req.ContentHash, req.Proof, req.RootHash)
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// ChainOverview handles GET /chain.
func (h *Handler) ChainOverview(c *gin.Context) {
	if h.chain == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "hash chain not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blocks":  h.chain.Len(),
		"tip":     h.chain.Tip(),
		"tainted": h.chain.Tainted(),
	})
}

// ChainVerify handles GET /chain/verify, re-verifying the full chain.
func (h *Handler) ChainVerify(c *gin.Context) {
	if h.chain == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "hash chain not configured"})
		return
	}
	if err := h.chain.Verify(); err != nil {
		h.logger.Warn("chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "length": h.chain.Len(), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "length": h.chain.Len()})
}

// AnchorHealth handles GET /anchors/health.
func (h *Handler) AnchorHealth(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusOK, gin.H{"backends": gin.H{}})
		return
	}
	out := gin.H{}
	for name, err := range h.manager.HealthCheck(c.Request.Context()) {
		if err != nil {
			out[name] = gin.H{"healthy": false, "error": err.Error()}
		} else {
			out[name] = gin.H{"healthy": true}
		}
	}
	c.JSON(http.StatusOK, gin.H{"backends": out, "stats": h.manager.Stats()})
}

// AnchorResults handles GET /anchors/results?n=20.
func (h *Handler) AnchorResults(c *gin.Context) {
	if h.manager == nil {
		c.JSON(http.StatusOK, gin.H{"results": []anchor.Result{}})
		return
	}
	n, _ := strconv.Atoi(c.DefaultQuery("n", "20"))
	c.JSON(http.StatusOK, gin.H{"results": h.manager.RecentResults(n)})
}
