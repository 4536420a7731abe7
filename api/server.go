// Package api exposes the work coordinator over HTTP. Each request
// stages a batch of operations, relationships and events, then runs
// one commit inside a database transaction.
package api

import (
	"context"
	"fmt"
	"net/http"

	"uow/config"
	"uow/coordinator"
	"uow/infrastructure/persistence"
	"uow/infrastructure/persistence/mysql"
	"uow/infrastructure/persistence/retry"
	"uow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommitRequest is the wire form of one unit of work. Records are
// correlated through caller-chosen refs, so a link can name a record
// that has no identity yet.
type CommitRequest struct {
	Operations []OperationInput `json:"operations" binding:"required,min=1"`
	Links      []LinkInput      `json:"links"`
	Events     []EventInput     `json:"events"`
}

type OperationInput struct {
	Ref        string         `json:"ref" binding:"required"`
	EntityType string         `json:"entity_type" binding:"required"`
	Kind       string         `json:"kind" binding:"required"`
	Fields     map[string]any `json:"fields"`
	FieldMask  []string       `json:"field_mask"`
}

type LinkInput struct {
	OwnerRef   string `json:"owner_ref" binding:"required"`
	OwnerField string `json:"owner_field" binding:"required"`

	// Direct reference link
	TargetRef string `json:"target_ref"`

	// External identifier link
	TargetType      string `json:"target_type"`
	ExternalIDField string `json:"external_id_field"`
	ExternalIDValue any    `json:"external_id_value"`
}

type EventInput struct {
	Phase       string `json:"phase" binding:"required"`
	Name        string `json:"name" binding:"required"`
	AggregateID string `json:"aggregate_id"`
	Data        any    `json:"data"`
}

type CommitResponse struct {
	Successful bool              `json:"successful"`
	Records    map[string]string `json:"records,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
}

// Handler serves the commit endpoint.
type Handler struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewHandler(db *gorm.DB, cfg *config.Config) *Handler {
	return &Handler{db: db, cfg: cfg}
}

// Router builds the gin engine with the standard middleware chain.
func Router(db *gorm.DB, cfg *config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(RateLimitMiddleware(cfg.Server.RateLimit))

	h := NewHandler(db, cfg)
	v1 := r.Group("/v1")
	{
		v1.POST("/commits", h.Commit)
		v1.GET("/healthz", h.Health)
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

// Commit stages and commits one unit of work. The whole request runs
// inside a single database transaction; the coordinator's savepoint
// discipline operates within it.
func (h *Handler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var resp *CommitResponse
	retryCfg := retry.FromAppConfig(h.cfg)
	err := retry.ExecuteWithRetry(c.Request.Context(), retryCfg, func(ctx context.Context) error {
		// A failed commit returns nil here: the coordinator's savepoint
		// rollback already undid the DML, and the outer transaction must
		// still commit so the failure events staged in the outbox
		// survive.
		return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txCtx := persistence.ContextWithTx(ctx, tx)
			var txErr error
			resp, txErr = h.commitOnce(txCtx, &req)
			return txErr
		})
	})

	status, body := commitReply(resp, err)
	c.JSON(status, body)
}

// commitReply maps a commit attempt to its wire reply. A transport
// error outranks the staged response: a transaction that failed at its
// own COMMIT rolled back everything the attempt reported as written.
func commitReply(resp *CommitResponse, err error) (int, any) {
	switch {
	case err != nil && resp == nil:
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case err != nil:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	case !resp.Successful:
		return http.StatusUnprocessableEntity, resp
	default:
		return http.StatusOK, resp
	}
}

// commitOnce wires a fresh coordinator for one attempt. A coordinator
// is one-shot, so each retry rebuilds it from the request.
func (h *Handler) commitOnce(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	co, records, err := h.buildCoordinator(req)
	if err != nil {
		logger.Warn("Failed to stage commit request", zap.Error(err))
		return nil, err
	}

	result, commitErr := co.Commit(ctx)
	if result == nil {
		return nil, commitErr
	}

	resp := &CommitResponse{Successful: result.Successful}
	if result.Successful {
		resp.Records = make(map[string]string, len(records))
		for ref, rec := range records {
			resp.Records[ref] = rec.ID()
		}
	} else {
		for _, cause := range result.Errors {
			resp.Errors = append(resp.Errors, cause.Error())
		}
	}
	return resp, nil
}

func (h *Handler) buildCoordinator(req *CommitRequest) (*coordinator.Coordinator, map[string]*coordinator.GenericRecord, error) {
	executor := mysql.NewExecutor(h.db)

	var strategy coordinator.WriteStrategy
	if h.cfg.Coordinator.Enforcement == "user" {
		strictness := coordinator.StrictnessStandard
		if h.cfg.Coordinator.Strictness == "strict" {
			strictness = coordinator.StrictnessStrict
		}
		strategy = coordinator.NewUserStrategy(executor, h.cfg.Coordinator.ActingUser, strictness)
	} else {
		strategy = coordinator.NewSystemStrategy(executor)
	}

	opts := []coordinator.Option{coordinator.WithLogger(logger.Get())}
	if h.cfg.Coordinator.DeleteOrder == "descending" {
		opts = append(opts, coordinator.WithDeleteOrder(coordinator.DeleteDescending))
	}

	co, err := coordinator.New(h.cfg.Coordinator.EntityTypes, coordinator.Deps{
		Strategy:   strategy,
		Savepoints: mysql.NewSavepoints(),
		Lookup:     mysql.NewLookup(h.db),
		Events:     mysql.NewOutboxTransport(h.db),
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	records := make(map[string]*coordinator.GenericRecord, len(req.Operations))
	for _, op := range req.Operations {
		if _, dup := records[op.Ref]; dup {
			return nil, nil, fmt.Errorf("duplicate operation ref %q", op.Ref)
		}
		rec := coordinator.NewGenericRecord(op.EntityType, op.Fields)
		records[op.Ref] = rec

		switch op.Kind {
		case "insert":
			err = co.RegisterNew(rec)
		case "update":
			if len(op.FieldMask) > 0 {
				err = co.RegisterDirtyFields(rec, op.FieldMask...)
			} else {
				err = co.RegisterDirty(rec)
			}
		case "delete":
			err = co.RegisterDeleted(rec)
		case "permanent_delete":
			err = co.RegisterPurged(rec)
		case "upsert":
			err = co.RegisterUpsert(rec)
		default:
			err = fmt.Errorf("unknown operation kind %q", op.Kind)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	for _, link := range req.Links {
		owner, ok := records[link.OwnerRef]
		if !ok {
			return nil, nil, fmt.Errorf("link owner ref %q does not name an operation", link.OwnerRef)
		}
		if link.TargetRef != "" {
			target, ok := records[link.TargetRef]
			if !ok {
				return nil, nil, fmt.Errorf("link target ref %q does not name an operation", link.TargetRef)
			}
			err = co.Link(owner, link.OwnerField, target)
		} else {
			err = co.LinkByExternalID(owner, link.OwnerField,
				link.TargetType, link.ExternalIDField, link.ExternalIDValue)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	for _, ev := range req.Events {
		phase, perr := parsePhase(ev.Phase)
		if perr != nil {
			return nil, nil, perr
		}
		if err := co.StageEvent(phase, coordinator.NewEvent(ev.Name, ev.AggregateID, ev.Data)); err != nil {
			return nil, nil, err
		}
	}

	return co, records, nil
}

func parsePhase(phase string) (coordinator.EventPhase, error) {
	switch phase {
	case "before_transaction":
		return coordinator.PhaseBeforeTransaction, nil
	case "after_success":
		return coordinator.PhaseAfterSuccess, nil
	case "after_failure":
		return coordinator.PhaseAfterFailure, nil
	default:
		return 0, fmt.Errorf("unknown event phase %q", phase)
	}
}
