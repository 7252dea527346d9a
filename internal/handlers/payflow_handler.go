package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ripplefund/payflow/internal/flow"
	"github.com/ripplefund/payflow/internal/validation"
	"github.com/ripplefund/payflow/internal/xrpl"
)

// HandlerConfig groups dependencies for the payload flow API.
type HandlerConfig struct {
	Coordinator *flow.Coordinator
	Ledger      *xrpl.Client
	Log         logrus.FieldLogger
}

// RegisterPayFlowRoutes registers the sign-in, funding, and flow lifecycle routes.
func RegisterPayFlowRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/auth/signin", func(c *gin.Context) {
		ctx := c.Request.Context()

		h, err := cfg.Coordinator.BeginSignIn(ctx)
		if err != nil {
			if errors.Is(err, flow.ErrBusy) {
				c.JSON(http.StatusConflict, gin.H{"error": "flow_in_progress"})
				return
			}
			if errors.Is(err, flow.ErrWalletUnavailable) {
				c.JSON(http.StatusBadGateway, gin.H{"error": "wallet_unavailable"})
				return
			}
			cfg.Log.WithError(err).Error("sign-in payload creation failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "payload_create_failed", "detail": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"payload_id": h.PayloadID,
			"deep_link":  h.DeepLink,
			"qr_payload": h.QRPayload,
		})
	})

	r.POST("/loans/:id/fund", func(c *gin.Context) {
		ctx := c.Request.Context()
		loanID := c.Param("id")

		var req validation.FundLoanRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Pre-flight balance check so the wallet request is not doomed.
		// Ledger hiccups do not block the flow; the wallet re-checks on sign.
		if balance, err := cfg.Ledger.XRPBalance(ctx, req.FunderAddress); err != nil {
			cfg.Log.WithError(err).WithField("account", req.FunderAddress).Warn("balance pre-check unavailable")
		} else if balance < req.AmountXRP {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "insufficient_balance",
				"balance":   balance,
				"requested": req.AmountXRP,
			})
			return
		}

		correlationID := c.GetHeader("X-Request-Id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		log := cfg.Log.WithFields(logrus.Fields{
			"loan_id":        loanID,
			"funder_id":      req.FunderID,
			"correlation_id": correlationID,
		})

		h, err := cfg.Coordinator.BeginPayment(ctx, flow.FundingRequest{
			LoanID:          loanID,
			FunderID:        req.FunderID,
			FunderAddress:   req.FunderAddress,
			BorrowerAddress: req.BorrowerAddress,
			Amount:          req.Amount,
			AmountXRP:       req.AmountXRP,
		})
		if err != nil {
			if errors.Is(err, flow.ErrBusy) {
				c.JSON(http.StatusConflict, gin.H{"error": "flow_in_progress"})
				return
			}
			log.WithError(err).Error("payment payload creation failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "payload_create_failed", "detail": err.Error()})
			return
		}

		log.WithField("payload_id", h.PayloadID).Info("funding payload created")
		c.Header("X-Request-Id", correlationID)
		c.JSON(http.StatusAccepted, gin.H{
			"payload_id": h.PayloadID,
			"deep_link":  h.DeepLink,
			"qr_payload": h.QRPayload,
		})
	})

	r.GET("/flow/status", func(c *gin.Context) {
		st := cfg.Coordinator.Status()
		code := http.StatusOK
		if st.State == flow.StateReconcileRequired {
			// surfacing it as an error status keeps naive clients from
			// treating a half-recorded payment as success
			code = http.StatusConflict
		}
		c.JSON(code, st)
	})

	r.POST("/flow/resume", func(c *gin.Context) {
		h, err := cfg.Coordinator.Resume(c.Request.Context())
		if err != nil {
			if errors.Is(err, flow.ErrNoPendingPayload) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no_pending_payload"})
				return
			}
			if errors.Is(err, flow.ErrBusy) {
				c.JSON(http.StatusConflict, gin.H{"error": "flow_in_progress"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resume_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"payload_id": h.PayloadID,
			"kind":       string(h.Kind),
		})
	})

	r.POST("/flow/cancel", func(c *gin.Context) {
		if err := cfg.Coordinator.Cancel(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	})

	r.GET("/wallet/:address/balances", func(c *gin.Context) {
		balances, err := cfg.Ledger.Balances(c.Request.Context(), c.Param("address"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "ledger_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, balances)
	})
}
