package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"moff.io/mint-widget/internal/contract"
	"moff.io/mint-widget/internal/gating"
	"moff.io/mint-widget/internal/mint"
	"moff.io/mint-widget/internal/notify"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/internal/tx"
	"moff.io/mint-widget/internal/wallet"
	"moff.io/mint-widget/pkg/errors"
)

// Business codes carried in the "code" field next to the HTTP status.
const (
	codeOK             = 0
	codeBadRequest     = 4000
	codeCancelled      = 4001
	codeNotConnected   = 4100
	codeChainAdded     = 4902
	codeSwitchRejected = 4903
	codeInternal       = 5000
)

type connectRequest struct {
	Force bool `json:"force"`
}

type choiceRequest struct {
	ID provider.ID `json:"id"`
}

type switchRequest struct {
	ChainID uint64 `json:"chainId" binding:"required"`
}

type mintRequest struct {
	Quantity uint64 `json:"quantity"`
}

type sessionView struct {
	wallet.Session
	Short string `json:"short,omitempty"`
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": codeOK, "msg": "ok", "data": data})
}

func fail(ctx *gin.Context, err error) {
	status, code := classify(err)
	ctx.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

func classify(err error) (int, int) {
	switch {
	case errors.Is(err, wallet.ErrUserCancelled):
		return http.StatusConflict, codeCancelled
	case errors.Is(err, wallet.ErrNotConnected), errors.Is(err, wallet.ErrNoAccount):
		return http.StatusUnauthorized, codeNotConnected
	case errors.Is(err, wallet.ErrChainAdded):
		return http.StatusConflict, codeChainAdded
	case errors.Is(err, wallet.ErrSwitchRejected):
		return http.StatusConflict, codeSwitchRejected
	case errors.Is(err, mint.ErrQuantity), errors.Is(err, mint.ErrSoldOut),
		errors.Is(err, notify.ErrNoPendingChoice), errors.Is(err, notify.ErrUnknownChoice),
		errors.Is(err, gating.ErrNoScore):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, contract.ErrCapabilityNotFound), errors.Is(err, contract.ErrCapabilityMisconfigured):
		return http.StatusNotImplemented, codeInternal
	}
	return http.StatusBadGateway, codeInternal
}

func view(s wallet.Session) sessionView {
	return sessionView{Session: s, Short: s.ShortAccount()}
}

func (s *Server) session(ctx *gin.Context) {
	ok(ctx, view(s.svc.Manager.Session()))
}

func (s *Server) connect(ctx *gin.Context) {
	var req connectRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": err.Error()})
			return
		}
	}
	session, err := s.svc.Manager.Connect(ctx.Request.Context(), req.Force)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, view(session))
}

func (s *Server) pendingChoice(ctx *gin.Context) {
	options, pending := s.svc.Chooser.Pending()
	ok(ctx, gin.H{"pending": pending, "options": options})
}

func (s *Server) choose(ctx *gin.Context) {
	var req choiceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": err.Error()})
		return
	}
	if err := s.svc.Chooser.Pick(req.ID); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) disconnect(ctx *gin.Context) {
	if err := s.svc.Manager.Disconnect(ctx.Request.Context()); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, view(s.svc.Manager.Session()))
}

func (s *Server) switchChain(ctx *gin.Context) {
	var req switchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": err.Error()})
		return
	}
	if err := s.svc.Switcher.SwitchTo(ctx.Request.Context(), req.ChainID); err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, view(s.svc.Manager.Session()))
}

func (s *Server) quote(ctx *gin.Context) {
	quantity := uint64(1)
	if raw := ctx.Query("quantity"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": "quantity should be a positive integer"})
			return
		}
		quantity = n
	}
	q, err := s.svc.Mint.Quote(ctx.Request.Context(), quantity)
	if err != nil {
		fail(ctx, err)
		return
	}
	ok(ctx, q)
}

func (s *Server) mint(ctx *gin.Context) {
	var req mintRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"code": codeBadRequest, "msg": err.Error()})
			return
		}
	}
	s.submitted(ctx)(s.svc.Mint.Mint(ctx.Request.Context(), req.Quantity))
}

func (s *Server) proInsight(ctx *gin.Context) {
	s.submitted(ctx)(s.svc.Mint.ProInsight(ctx.Request.Context()))
}

func (s *Server) submitScore(ctx *gin.Context) {
	s.submitted(ctx)(s.svc.Mint.SubmitScore(ctx.Request.Context()))
}

// submitted answers with the handle snapshot, the rest of the lifecycle goes out on the event stream.
func (s *Server) submitted(ctx *gin.Context) func(*tx.Handle, error) {
	return func(h *tx.Handle, err error) {
		if err != nil {
			fail(ctx, err)
			return
		}
		ctx.JSON(http.StatusAccepted, gin.H{"code": codeOK, "msg": "submitted", "data": h.Snapshot()})
	}
}
