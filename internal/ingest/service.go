// Package ingest is the HTTP API producers and the checkout call into.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/auth"
	"github.com/austindbirch/tml_hook/internal/delivery"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/rates"
	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

type Collector interface {
	Collect(ctx context.Context, req rates.Request) (rates.Method, bool)
}

type Provisioner interface {
	Enable(ctx context.Context, tenantID int64, profile tenant.Profile) (tenant.Settings, error)
	Disable(ctx context.Context, tenantID int64) (tenant.Settings, error)
}

type OutboxReader interface {
	FindByKey(ctx context.Context, eventType outbox.EventType, referenceID, tenantID int64) (outbox.Event, error)
}

type Server struct {
	producer    delivery.Producer
	topic       string
	carrier     Collector
	provisioner Provisioner
	outbox      OutboxReader
	logger      *logging.Logger
	now         func() time.Time
}

func NewServer(producer delivery.Producer, topic string, carrier Collector, provisioner Provisioner, rows OutboxReader, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		producer:    producer,
		topic:       topic,
		carrier:     carrier,
		provisioner: provisioner,
		outbox:      rows,
		logger:      logger,
		now:         time.Now,
	}
}

// Register mounts the /v1 routes. The router must already run the auth
// middleware that sets the tenant.
func (s *Server) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/ping", s.Ping)
	v1.POST("/events", s.PublishEvent)
	v1.POST("/rates/quote", s.QuoteRate)
	v1.POST("/tenant/enable", s.EnableTenant)
	v1.POST("/tenant/disable", s.DisableTenant)
	v1.GET("/outbox/:type/:ref", s.GetOutboxRow)
}

func tenantID(c *gin.Context) (int64, bool) {
	id, ok := auth.GetTenantIDFromContext(c.Request.Context())
	if !ok || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant not authenticated"})
		return 0, false
	}
	return id, true
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Ping returns "pong"
func (s *Server) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

type publishEventRequest struct {
	EventType   string          `json:"event_type" binding:"required"`
	ReferenceID int64           `json:"reference_id"`
	EventID     string          `json:"event_id"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
}

// PublishEvent validates a producer event and queues it on the events topic
// for the worker.
func (s *Server) PublishEvent(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req publishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, span := tracing.StartSpan(c.Request.Context(), "ingest.PublishEvent",
		attribute.Int64("tenant_id", tid),
		attribute.String("event_type", req.EventType),
	)
	defer span.End()

	msg, err := delivery.NewMessage(ctx, outbox.EventType(req.EventType), req.ReferenceID, tid, req.EventID, req.Payload, s.now())
	if err != nil {
		badRequest(c, err)
		return
	}
	body, err := msg.Marshal()
	if err != nil {
		badRequest(c, err)
		return
	}

	tracing.AddSpanEvent(ctx, "nsq.publish", attribute.String("topic", s.topic))
	if err := s.producer.Publish(s.topic, body); err != nil {
		tracing.SetSpanError(ctx, err)
		s.logger.WithContext(ctx).WithTenant(tid).WithError(err).Error("events publish failed")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": msg.ResolvedEventID(), "status": "queued"})
}

type quoteRequest struct {
	PostalCode    string  `json:"postal_code"`
	CountryID     string  `json:"country_id"`
	PackageWeight float64 `json:"package_weight"`
	WeightUnit    string  `json:"weight_unit"`
}

// QuoteRate answers a checkout shipping request with zero or one method.
func (s *Server) QuoteRate(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	methods := []rates.Method{}
	if m, ok := s.carrier.Collect(c.Request.Context(), rates.Request{
		TenantID:      tid,
		PostalCode:    req.PostalCode,
		CountryID:     req.CountryID,
		PackageWeight: req.PackageWeight,
		WeightUnit:    req.WeightUnit,
	}); ok {
		methods = append(methods, m)
	}
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

type enableRequest struct {
	StoreName    string `json:"store_name" binding:"required"`
	StoreEmail   string `json:"store_email"`
	StoreDomain  string `json:"store_domain"`
	Country      string `json:"country"`
	Province     string `json:"province"`
	MainLanguage string `json:"main_language"`
	MainCurrency string `json:"main_currency"`
	MainTimezone string `json:"main_timezone"`
	Edition      string `json:"edition"`
}

type tenantView struct {
	TenantID       int64  `json:"tenant_id"`
	Enabled        bool   `json:"enabled"`
	ClientID       string `json:"client_id,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
	StoreName      string `json:"store_name,omitempty"`
	StoreURL       string `json:"store_url,omitempty"`
}

func viewOf(s tenant.Settings) tenantView {
	return tenantView{
		TenantID:       s.TenantID,
		Enabled:        s.Enabled,
		ClientID:       s.ClientID,
		HasCredentials: s.Credentials().Complete(),
		StoreName:      s.StoreName,
		StoreURL:       s.StoreURL,
	}
}

// EnableTenant switches the caller's tenant on and registers its store. A
// failed registration still leaves the tenant enabled and answers 502.
func (s *Server) EnableTenant(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	st, err := s.provisioner.Enable(c.Request.Context(), tid, tenant.Profile{
		StoreName:    req.StoreName,
		StoreEmail:   req.StoreEmail,
		StoreDomain:  req.StoreDomain,
		Country:      req.Country,
		Province:     req.Province,
		MainLanguage: req.MainLanguage,
		MainCurrency: req.MainCurrency,
		MainTimezone: req.MainTimezone,
		Edition:      req.Edition,
	})
	if err != nil {
		if st.TenantID == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"tenant": viewOf(st), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": viewOf(st)})
}

func (s *Server) DisableTenant(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	st, err := s.provisioner.Disable(c.Request.Context(), tid)
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"tenant": viewOf(st)})
	}
}

type outboxView struct {
	ID            int64      `json:"id"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	ReferenceID   int64      `json:"reference_id"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     *string    `json:"last_error"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GetOutboxRow reports the delivery state of one of the caller's rows.
func (s *Server) GetOutboxRow(c *gin.Context) {
	tid, ok := tenantID(c)
	if !ok {
		return
	}
	ref, err := strconv.ParseInt(c.Param("ref"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("ref must be an integer"))
		return
	}

	ev, err := s.outbox.FindByKey(c.Request.Context(), outbox.EventType(c.Param("type")), ref, tid)
	switch {
	case errors.Is(err, outbox.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "outbox row not found"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outboxView{
		ID:            ev.ID,
		EventID:       ev.EventID,
		EventType:     string(ev.EventType),
		ReferenceID:   ev.ReferenceID,
		Status:        string(ev.Status),
		Attempts:      ev.Attempts,
		LastError:     ev.LastError,
		NextAttemptAt: ev.NextAttemptAt,
		UpdatedAt:     ev.UpdatedAt,
	})
}
