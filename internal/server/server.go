package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenthands/cobalt/internal/core"
	"github.com/agenthands/cobalt/internal/store"
	"github.com/agenthands/cobalt/internal/types"
)

type Server struct {
	consolidator *core.Consolidator
	pool         *core.Pool
	store        store.Store
	logger       *zap.Logger
}

func NewServer(consolidator *core.Consolidator, pool *core.Pool, st store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		consolidator: consolidator,
		pool:         pool,
		store:        st,
		logger:       logger,
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/entities", s.IngestEntities)
	r.GET("/entities", s.ListEntities)
	r.GET("/audit", s.ListAudit)
	r.POST("/rollback", s.Rollback)
	r.GET("/healthz", s.Health)

	return r
}

type IngestRequest struct {
	Record  *types.CandidateRecord  `json:"record,omitempty"`
	Records []types.CandidateRecord `json:"records,omitempty"`
}

// IngestEntities accepts one record for synchronous consolidation or a
// batch that is queued for the worker pool.
func (s *Server) IngestEntities(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	switch {
	case req.Record != nil:
		s.ingestOne(c, *req.Record)
	case len(req.Records) > 0:
		s.ingestBatch(c, req.Records)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide record or records"})
	}
}

func (s *Server) ingestOne(c *gin.Context, rec types.CandidateRecord) {
	outcome, err := s.consolidator.Consolidate(c.Request.Context(), rec)
	if err != nil {
		if errors.Is(err, types.ErrInvalidEntityType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("ingest failed", zap.String("name", rec.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to consolidate record"})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) ingestBatch(c *gin.Context, records []types.CandidateRecord) {
	// Validate types up front so a bad batch fails fast instead of
	// half-enqueueing.
	for _, rec := range records {
		if _, err := types.ParseEntityType(rec.EntityType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() + ": " + rec.EntityType})
			return
		}
	}

	accepted := 0
	for _, rec := range records {
		if err := s.pool.Enqueue(rec); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    err.Error(),
				"accepted": accepted,
			})
			return
		}
		accepted++
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (s *Server) ListEntities(c *gin.Context) {
	entityType, err := types.ParseEntityType(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() + ": " + c.Query("type")})
		return
	}

	var entities []*types.Entity
	if prefix := c.Query("prefix"); prefix != "" {
		entities, err = s.store.QueryByTypeAndNamePrefix(c.Request.Context(), entityType, prefix)
	} else {
		entities, err = s.store.ListByType(c.Request.Context(), entityType)
	}
	if err != nil {
		s.logger.Error("entity query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query entities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": entities})
}

func (s *Server) ListAudit(c *gin.Context) {
	filter := store.AuditFilter{}
	if v := c.Query("type"); v != "" {
		entityType, err := types.ParseEntityType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() + ": " + v})
			return
		}
		filter.EntityType = entityType
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		filter.Since = since
	}

	records, err := s.store.ListAuditRecords(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_records": records})
}

type RollbackRequest struct {
	AuditID string `json:"audit_id"`
	Reason  string `json:"reason"`
}

func (s *Server) Rollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AuditID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audit_id is required"})
		return
	}

	record, err := s.consolidator.Rollback(c.Request.Context(), req.AuditID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrAuditNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, types.ErrAlreadyRolledBack):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			s.logger.Error("rollback failed", zap.String("audit_id", req.AuditID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to roll back"})
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
