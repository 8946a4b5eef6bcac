package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/usecase"
)

type createTerminalPaymentReq struct {
	TerminalID string `json:"terminalId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
}

func (s *Server) handleCreateTerminalPayment(c *gin.Context) {
	var req createTerminalPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, domain.NewDomainError(domain.ErrorCodeValidationFailed, "invalid json"))
		return
	}
	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	p, err := s.deps.Terminals.InitiatePayment(c.Request.Context(), usecase.InitiatePaymentRequest{
		StoreID:    s.cfg.StoreID,
		TerminalID: req.TerminalID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Reference:  req.Reference,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusCreated, p)
}

func (s *Server) handleGetTerminalPayment(c *gin.Context) {
	p, err := s.deps.Terminals.GetPayment(c.Request.Context(), s.cfg.StoreID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, p)
}

func (s *Server) handleCancelTerminalPayment(c *gin.Context) {
	p, err := s.deps.Terminals.CancelPayment(c.Request.Context(), s.cfg.StoreID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, p)
}

// handleMobileReturn is where the wallet app sends the payer after they act
// on a terminal payment.
func (s *Server) handleMobileReturn(c *gin.Context) {
	p, err := s.deps.Terminals.HandleMobileReturn(c.Request.Context(), usecase.MobileReturn{
		RequestID: c.Query("requestId"),
		PaymentID: c.Query("paymentId"),
		Status:    c.Query("status"),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, gin.H{"paymentId": p.PaymentID, "status": p.Status})
}

// handleTerminalSocket authenticates the terminal and hands the connection to
// the hub for the lifetime of the socket.
func (s *Server) handleTerminalSocket(c *gin.Context) {
	id := c.GetHeader("X-Terminal-Id")
	key := c.GetHeader("X-Terminal-Key")
	if id == "" {
		id, key = c.Query("terminalId"), c.Query("key")
	}
	t, err := s.deps.Terminals.Authenticate(c.Request.Context(), id, key)
	if err != nil {
		s.fail(c, err)
		return
	}
	if t.StoreID != s.cfg.StoreID {
		s.fail(c, domain.ErrTerminalNotFound)
		return
	}
	if err := s.deps.Hub.Serve(c.Writer, c.Request, t.ID); err != nil {
		s.log.Warn("terminal upgrade failed", zap.String("terminal_id", t.ID), zap.Error(err))
	}
}
