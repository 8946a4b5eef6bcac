package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"storefront/internal/config"
	"storefront/internal/domain"
	"storefront/internal/infrastructure/terminalhub"
	"storefront/internal/metrics"
	"storefront/internal/usecase"
)

const (
	sessionCookie = "sf_session"
	ctxSession    = "session"
	ctxRequestID  = "request_id"
)

type Deps struct {
	Auth      *usecase.AuthService
	Cart      *usecase.CartService
	Checkout  *usecase.CheckoutService
	Orders    *usecase.OrderService
	Terminals *usecase.TerminalService
	Hub       *terminalhub.Hub
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

type Server struct {
	cfg     config.Config
	deps    Deps
	log     *zap.Logger
	limiter *RateLimiter
	router  *gin.Engine
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		limiter: NewRateLimiter(cfg.CheckoutRatePerSecond, cfg.CheckoutBurst),
		router:  gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID(), s.accessLog(), gin.Recovery())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", "X-Request-Id", "X-Admin-Key"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	shop := r.Group("", s.session())
	{
		shop.GET("/api/products", s.handleProducts)
		shop.GET("/api/cart", s.handleCart)
		shop.POST("/api/cart/items", s.handleAddToCart)
		shop.DELETE("/api/cart", s.handleClearCart)

		shop.GET("/auth/login", s.handleLogin)
		shop.GET("/auth/callback", s.handleLoginCallback)
		shop.POST("/auth/logout", s.handleLogout)
		shop.GET("/api/me", s.handleMe)

		shop.GET("/checkout/:provider", s.rateLimit(), s.handleCheckout)
		shop.GET("/payment/:provider/callback", s.handlePaymentCallback)
		shop.GET("/api/orders/:id", s.handleGetOrder)
	}

	admin := r.Group("/api/admin", s.adminOnly())
	{
		admin.GET("/orders", s.handleListOrders)
		admin.POST("/orders/:id/capture", s.handleCapture)
		admin.POST("/orders/:id/void", s.handleVoid)
		admin.POST("/orders/:id/refund", s.handleRefund)
	}

	term := r.Group("/api/terminal", s.adminOnly())
	{
		term.POST("/payments", s.handleCreateTerminalPayment)
		term.GET("/payments/:id", s.handleGetTerminalPayment)
		term.POST("/payments/:id/cancel", s.handleCancelTerminalPayment)
	}
	r.GET("/terminal/ws", s.handleTerminalSocket)
	r.GET("/terminal/mobile-return", s.handleMobileReturn)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		s.deps.Metrics.HTTPRequest(route, c.Request.Method, strconv.Itoa(code))
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", code),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if code >= http.StatusInternalServerError {
			s.log.Error("request", fields...)
			return
		}
		s.log.Info("request", fields...)
	}
}

// session loads the signed session cookie, starting an anonymous session when
// it is missing or invalid.
func (s *Server) session() gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess *usecase.Session
		if raw, err := c.Cookie(sessionCookie); err == nil && raw != "" {
			sess, _ = s.deps.Auth.Verify(raw)
		}
		if sess == nil {
			sess = s.deps.Auth.NewSession()
			if !s.writeSession(c, sess) {
				c.Abort()
				return
			}
		}
		c.Set(ctxSession, sess)
		c.Next()
	}
}

func (s *Server) writeSession(c *gin.Context, sess *usecase.Session) bool {
	tok, err := s.deps.Auth.Issue(sess)
	if err != nil {
		s.fail(c, err)
		return false
	}
	maxAge := int(s.cfg.SessionTTL / time.Second)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, tok, maxAge, "/", "", s.cfg.Env != "dev", true)
	return true
}

func currentSession(c *gin.Context) *usecase.Session {
	v, _ := c.Get(ctxSession)
	sess, _ := v.(*usecase.Session)
	return sess
}

func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if s.cfg.AdminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminAPIKey)) != 1 {
			s.fail(c, domain.NewDomainError(domain.ErrorCodeAuthRequired, "admin key required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			s.err(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many checkout attempts", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

var statusByCode = map[domain.ErrorCode]int{
	domain.ErrorCodeEmptyCart:           http.StatusBadRequest,
	domain.ErrorCodeProductNotFound:     http.StatusNotFound,
	domain.ErrorCodeDiscoveryFailed:     http.StatusBadGateway,
	domain.ErrorCodeInvalidState:        http.StatusBadRequest,
	domain.ErrorCodeStateMismatch:       http.StatusBadRequest,
	domain.ErrorCodeProviderAuth:        http.StatusUnauthorized,
	domain.ErrorCodeTokenExchange:       http.StatusBadGateway,
	domain.ErrorCodeMissingCardToken:    http.StatusBadGateway,
	domain.ErrorCodeMissingWalletTokens: http.StatusBadGateway,
	domain.ErrorCodePaymentNetwork:      http.StatusBadGateway,
	domain.ErrorCodePaymentDeclined:     http.StatusPaymentRequired,
	domain.ErrorCodeInvalidTransition:   http.StatusConflict,
	domain.ErrorCodeTerminalOffline:     http.StatusConflict,
	domain.ErrorCodeTerminalNotFound:    http.StatusNotFound,
	domain.ErrorCodeOrderNotFound:       http.StatusNotFound,
	domain.ErrorCodePaymentNotFound:     http.StatusNotFound,
	domain.ErrorCodeOrderConflict:       http.StatusConflict,
	domain.ErrorCodeWalletUnavailable:   http.StatusServiceUnavailable,
	domain.ErrorCodeAuthRequired:        http.StatusUnauthorized,
	domain.ErrorCodeValidationFailed:    http.StatusBadRequest,
	domain.ErrorCodeInternal:            http.StatusInternalServerError,
}

// fail writes err as the JSON error envelope.
func (s *Server) fail(c *gin.Context, err error) {
	code := domain.GetErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		code, status = domain.ErrorCodeInternal, http.StatusInternalServerError
	}
	msg := err.Error()
	details := domain.ErrorDetails(err)
	var ite *domain.InvalidTransitionError
	var de *domain.DomainError
	switch {
	case errors.As(err, &ite):
		details = map[string]any{"from": ite.From, "to": ite.To}
	case errors.As(err, &de):
		msg = de.Message
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("request_id", c.GetString(ctxRequestID)), zap.Error(err))
		msg = "internal error"
		details = nil
	}
	s.err(c, status, string(code), msg, details)
}

func (s *Server) err(c *gin.Context, status int, code, msg string, details map[string]any) {
	body := gin.H{
		"code":      code,
		"message":   msg,
		"requestId": c.GetString(ctxRequestID),
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, gin.H{"error": body})
}

func (s *Server) json(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}
