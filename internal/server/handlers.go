package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/usecase"
)

func (s *Server) handleProducts(c *gin.Context) {
	products, err := s.deps.Cart.Catalog(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, gin.H{"products": products})
}

func (s *Server) handleCart(c *gin.Context) {
	view, err := s.deps.Cart.View(c.Request.Context(), currentSession(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, view)
}

type addToCartReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (s *Server) handleAddToCart(c *gin.Context) {
	var req addToCartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, domain.NewDomainError(domain.ErrorCodeValidationFailed, "invalid json"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	sess := currentSession(c)
	if err := s.deps.Cart.Add(c.Request.Context(), sess.ID, req.ProductID, req.Quantity); err != nil {
		s.fail(c, err)
		return
	}
	s.handleCart(c)
}

func (s *Server) handleClearCart(c *gin.Context) {
	if err := s.deps.Cart.Clear(c.Request.Context(), currentSession(c).ID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLogin(c *gin.Context) {
	redirect, err := s.deps.Auth.BeginLogin(c.Request.Context(), currentSession(c).ID)
	if err != nil {
		s.redirectError(c, "/login", err, "")
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

func (s *Server) handleLoginCallback(c *gin.Context) {
	sess := currentSession(c)
	id, err := s.deps.Auth.CompleteLogin(c.Request.Context(), sess.ID, c.Query("code"), c.Query("state"), c.Query("error"))
	if err != nil {
		s.redirectError(c, "/login", err, "")
		return
	}
	if !s.writeSession(c, &usecase.Session{ID: sess.ID, Identity: id}) {
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleLogout(c *gin.Context) {
	if !s.writeSession(c, s.deps.Auth.NewSession()) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	sess := currentSession(c)
	if sess.Identity == nil {
		s.fail(c, domain.ErrAuthRequired)
		return
	}
	s.json(c, http.StatusOK, sess.Identity)
}

func (s *Server) handleCheckout(c *gin.Context) {
	kind, ok := domain.ParseProviderKind(c.Param("provider"))
	if !ok {
		s.redirectError(c, "/checkout", domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown payment provider"), "")
		return
	}
	sess := currentSession(c)
	res, err := s.deps.Checkout.Initiate(c.Request.Context(), usecase.InitiateRequest{
		SessionID: sess.ID,
		Provider:  kind,
		Identity:  sess.Identity,
	})
	if err != nil {
		s.redirectError(c, "/checkout", err, "")
		return
	}
	c.Redirect(http.StatusFound, res.RedirectURL)
}

func (s *Server) handlePaymentCallback(c *gin.Context) {
	sess := currentSession(c)
	res, err := s.deps.Checkout.Callback(c.Request.Context(), usecase.CallbackRequest{
		SessionID:        sess.ID,
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
		Identity:         sess.Identity,
	})
	if res != nil && res.AdoptedIdentity != nil && sess.Identity == nil {
		s.writeSession(c, &usecase.Session{ID: sess.ID, Identity: res.AdoptedIdentity})
	}
	if err != nil {
		orderID := ""
		if res != nil && res.Order != nil {
			orderID = res.Order.ID
		}
		s.redirectError(c, "/checkout", err, orderID)
		return
	}
	c.Redirect(http.StatusFound, "/orders/"+url.PathEscape(res.Order.ID)+"/confirmation")
}

// redirectError sends the browser back to path with a machine-readable code.
func (s *Server) redirectError(c *gin.Context, path string, err error, orderID string) {
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrorCodeInternal
	}
	q := url.Values{}
	q.Set("error", string(code))
	var de *domain.DomainError
	if errors.As(err, &de) && code != domain.ErrorCodeInternal {
		q.Set("reason", de.Message)
	}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	s.log.Warn("browser flow failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("code", string(code)),
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err),
	)
	c.Redirect(http.StatusFound, path+"?"+q.Encode())
}

// handleGetOrder shows an order to its purchaser. Guest orders are visible to
// anyone holding the id.
func (s *Server) handleGetOrder(c *gin.Context) {
	o, err := s.deps.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if o.UserID != domain.GuestUserID {
		sess := currentSession(c)
		if sess.Identity == nil || sess.Identity.Subject != o.UserID {
			s.fail(c, domain.ErrOrderNotFound)
			return
		}
	}
	s.json(c, http.StatusOK, publicOrder(o))
}

// publicOrder strips the card tokens, which are bearer credentials at the
// payment network.
func publicOrder(o *domain.Order) *domain.Order {
	out := o.Clone()
	if out.PaymentDetails != nil {
		out.PaymentDetails.CardToken = ""
		out.PaymentDetails.WalletCardToken = ""
	}
	return out
}

func (s *Server) handleListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	orders, total, err := s.deps.Orders.List(c.Request.Context(), page, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, gin.H{"orders": orders, "total": total, "page": page})
}

type amountReq struct {
	Amount *int64 `json:"amount"`
}

func bindAmount(c *gin.Context) (*int64, error) {
	var req amountReq
	if c.Request.ContentLength == 0 {
		return nil, nil
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "invalid json")
	}
	return req.Amount, nil
}

func (s *Server) handleCapture(c *gin.Context) {
	amount, err := bindAmount(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.deps.Orders.Capture(c.Request.Context(), c.Param("id"), amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, o)
}

func (s *Server) handleVoid(c *gin.Context) {
	o, err := s.deps.Orders.Void(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, o)
}

func (s *Server) handleRefund(c *gin.Context) {
	amount, err := bindAmount(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if amount == nil {
		s.fail(c, domain.NewDomainError(domain.ErrorCodeValidationFailed, "amount required"))
		return
	}
	o, err := s.deps.Orders.Refund(c.Request.Context(), c.Param("id"), *amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.json(c, http.StatusOK, o)
}
