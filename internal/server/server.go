package server

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"blockshield/internal/asset"
	"blockshield/internal/core"
	"blockshield/internal/event"
	"blockshield/internal/observability"
	"blockshield/internal/query"
	"blockshield/internal/sale"
	"blockshield/internal/settlement"
	"blockshield/internal/token"
)

const submitTimeout = 10 * time.Second

// Server exposes the HTTP API: admin commands, insurance purchases,
// and read-side queries against the projections.
type Server struct {
	subs       chan<- core.Submission
	queries    *query.Service
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	adminToken string
	log        zerolog.Logger
}

type Config struct {
	Submissions chan<- core.Submission
	Queries     *query.Service
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	AdminToken  string
}

func New(cfg Config) *Server {
	return &Server{
		subs:       cfg.Submissions,
		queries:    cfg.Queries,
		health:     cfg.Health,
		metrics:    cfg.Metrics,
		adminToken: cfg.AdminToken,
		log:        observability.NewLogger("http"),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/readyz", s.handleReadyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		admin := api.Group("", s.requireAdmin())
		{
			admin.POST("/assets", s.handleCreateAsset)
			admin.POST("/policies", s.handleCreatePolicy)
			admin.PUT("/policies/:symbol/settlement-token", s.handleSetSettlementToken)
			admin.PUT("/policies/:symbol/route", s.handleSetRoute)
		}

		api.POST("/policies/:symbol/hire", s.handleHire)
		api.GET("/policies/:symbol/records", s.handleRecords)
		api.GET("/policies/:symbol/totals", s.handleTotals)
		api.GET("/policies/:symbol/status", s.handleStatus)
		api.GET("/events", s.handleEvents)
	}

	return r
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.APIRequests.WithLabelValues(endpoint, http.StatusText(c.Writer.Status())).Inc()
		s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" || c.GetHeader("X-Admin-Token") != s.adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// submit sends a command into the core and waits for the result.
func (s *Server) submit(c *gin.Context, evt event.Event) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), submitTimeout)
	defer cancel()

	reply := make(chan error, 1)
	select {
	case s.subs <- core.Submission{Evt: evt, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- command handlers ---

type createAssetRequest struct {
	Name        string `json:"name" binding:"required"`
	Symbol      string `json:"symbol" binding:"required"`
	TotalSupply int64  `json:"total_supply" binding:"required"`
	TotalValue  string `json:"total_value" binding:"required"`
	DueDate     int64  `json:"due_date_us" binding:"required"`
	Yield       int64  `json:"yield" binding:"required"`
}

func (s *Server) handleCreateAsset(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	totalValue, ok := new(big.Int).SetString(req.TotalValue, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total_value must be a decimal integer string"})
		return
	}

	cmd := &event.CreateAsset{
		RequestID:   uuid.New(),
		Name:        req.Name,
		Symbol:      req.Symbol,
		TotalSupply: req.TotalSupply,
		TotalValue:  totalValue,
		DueDate:     time.UnixMicro(req.DueDate),
		Yield:       req.Yield,
		Timestamp:   time.Now(),
	}
	if err := s.submit(c, cmd); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": cmd.RequestID, "symbol": req.Symbol})
}

type createPolicyRequest struct {
	AssetSymbol string `json:"asset_symbol" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Prime       int64  `json:"prime" binding:"required"`
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var req createPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := &event.CreatePolicy{
		RequestID:   uuid.New(),
		AssetSymbol: req.AssetSymbol,
		Name:        req.Name,
		Prime:       req.Prime,
		Timestamp:   time.Now(),
	}
	if err := s.submit(c, cmd); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"request_id": cmd.RequestID,
		"policy":     asset.PolicyPrefix + req.AssetSymbol,
	})
}

type setTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleSetSettlementToken(c *gin.Context) {
	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := &event.SetSettlementToken{
		RequestID: uuid.New(),
		Policy:    c.Param("symbol"),
		Token:     req.Token,
		Timestamp: time.Now(),
	}
	if err := s.submit(c, cmd); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": cmd.RequestID})
}

type setRouteRequest struct {
	ChainSelector    uint64 `json:"chain_selector" binding:"required"`
	DestinationToken string `json:"destination_token" binding:"required"`
	FeeToken         string `json:"fee_token" binding:"required"`
}

func (s *Server) handleSetRoute(c *gin.Context) {
	var req setRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := &event.SetCrossChainRoute{
		RequestID:        uuid.New(),
		Policy:           c.Param("symbol"),
		ChainSelector:    req.ChainSelector,
		DestinationToken: req.DestinationToken,
		FeeToken:         req.FeeToken,
		Timestamp:        time.Now(),
	}
	if err := s.submit(c, cmd); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": cmd.RequestID})
}

type hireRequest struct {
	Buyer    string `json:"buyer" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
}

func (s *Server) handleHire(c *gin.Context) {
	var req hireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := &event.HireInsurance{
		RequestID: uuid.New(),
		Policy:    c.Param("symbol"),
		Buyer:     req.Buyer,
		Quantity:  req.Quantity,
		Timestamp: time.Now(),
	}
	if err := s.submit(c, cmd); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": cmd.RequestID})
}

// --- query handlers ---

func (s *Server) handleRecords(c *gin.Context) {
	records, err := s.queries.RecordsForPolicy(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleTotals(c *gin.Context) {
	totals, err := s.queries.TotalsForPolicy(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.queries.StatusForPolicy(c.Request.Context(), c.Param("symbol"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusOK, gin.H{"policy": c.Param("symbol"), "phase": "open"})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}
	entries, err := s.queries.RecentEvents(c.Request.Context(), c.Query("policy"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": s.health.Uptime().String()})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if !s.health.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps core sentinel errors onto HTTP status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, asset.ErrUnknownAsset),
		errors.Is(err, asset.ErrUnknownPolicy),
		errors.Is(err, token.ErrUnknownToken):
		status = http.StatusNotFound

	case errors.Is(err, asset.ErrDuplicateSymbol),
		errors.Is(err, asset.ErrDuplicatePolicy):
		status = http.StatusConflict

	case errors.Is(err, asset.ErrEmptyName),
		errors.Is(err, asset.ErrSymbolTooShort),
		errors.Is(err, asset.ErrZeroSupply),
		errors.Is(err, asset.ErrZeroValue),
		errors.Is(err, asset.ErrDueDateNotFuture),
		errors.Is(err, asset.ErrInvalidPercentage),
		errors.Is(err, asset.ErrPrimeNotBelowYield),
		errors.Is(err, sale.ErrInvalidQuantity),
		errors.Is(err, sale.ErrAmountOutOfRange):
		status = http.StatusBadRequest

	case errors.Is(err, asset.ErrNotConfigured),
		errors.Is(err, sale.ErrQuantityExceedsSupply),
		errors.Is(err, sale.ErrInsufficientStock),
		errors.Is(err, sale.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrUpkeepNotDue),
		errors.Is(err, settlement.ErrAlreadyExecuted),
		errors.Is(err, settlement.ErrRequestPending):
		status = http.StatusUnprocessableEntity

	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
