// Package api serves the operator HTTP surface of a watchdog instance.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/auth"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/capability"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watchdog"
)

// Signed actions accepted by the routes.
const (
	ActionStatus = "status"
	ActionFund   = "fund"
)

type Handler struct {
	inst *watchdog.Instance
	log  *zap.Logger
}

func NewHandler(inst *watchdog.Instance, log *zap.Logger) *Handler {
	return &Handler{inst: inst, log: log}
}

// Register mounts the operator routes. The auth middleware should already be
// applied to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/status", requireAction(ActionStatus), h.handleStatus)
	rg.POST("/fund", requireAction(ActionFund), h.handleFund)
}

// NewRouter builds the full engine: health and metrics in the clear, the
// operator routes under /api behind authMW.
func NewRouter(h *Handler, authMW gin.HandlerFunc, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	h.Register(r.Group("/api", authMW))
	return r
}

// requireAction rejects a signed request that was signed for another route.
func requireAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if req, ok := auth.Request(c); ok && req.Action != action {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "signed action does not match route"})
			return
		}
		c.Next()
	}
}

// ── Status ──────────────────────────────────────────────────────────────────

func (h *Handler) handleStatus(c *gin.Context) {
	st, err := h.inst.Status(c.Request.Context())
	if err != nil {
		h.log.Error("status failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// ── Fund ────────────────────────────────────────────────────────────────────

func (h *Handler) handleFund(c *gin.Context) {
	offer, code, reason := h.readOffer(c)
	if code != 0 {
		c.JSON(code, gin.H{"error": reason})
		return
	}

	msg, err := h.inst.CreatorInvitation().Accept(c.Request.Context(), offer)
	var shapeErr *watchdog.ProposalShapeError
	switch {
	case err == nil:
	case errors.As(err, &shapeErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": shapeErr.Error()})
		return
	case errors.Is(err, capability.ErrSpent):
		c.JSON(http.StatusConflict, gin.H{"error": "invitation already used"})
		return
	case errors.Is(err, watchdog.ErrEscrowNotEmpty):
		c.JSON(http.StatusConflict, gin.H{"error": "escrow already funded"})
		return
	default:
		h.log.Error("accept offer failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	op, _ := auth.Operator(c)
	h.log.Info("initial funding accepted", zap.String("operator", op.Hex()))
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// readOffer returns the offer to accept, or a status and reason to reject the
// request with. A signed request carries the offer in its payload: it must be
// signed for this deployment, and a body, if any, must match it.
func (h *Handler) readOffer(c *gin.Context) (watchdog.Offer, int, string) {
	var offer watchdog.Offer
	req, signed := auth.Request(c)
	if !signed {
		if err := c.ShouldBindJSON(&offer); err != nil {
			return offer, http.StatusBadRequest, "invalid offer body"
		}
		return offer, 0, ""
	}

	if req.ResourceID != h.inst.Terms().DeploymentID {
		return offer, http.StatusForbidden, "signed for another deployment"
	}
	if err := json.Unmarshal(req.Payload, &offer); err != nil {
		return offer, http.StatusBadRequest, "invalid signed offer"
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return offer, http.StatusBadRequest, "unreadable body"
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return offer, 0, ""
	}
	var sent watchdog.Offer
	if err := json.Unmarshal(body, &sent); err != nil {
		return offer, http.StatusBadRequest, "invalid offer body"
	}
	if !sameOffer(offer, sent) {
		return offer, http.StatusForbidden, "body does not match signed offer"
	}
	return offer, 0, ""
}

func sameOffer(a, b watchdog.Offer) bool {
	ja, errA := json.Marshal(normalize(a))
	jb, errB := json.Marshal(normalize(b))
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// normalize treats empty and absent maps alike.
func normalize(o watchdog.Offer) watchdog.Offer {
	if len(o.Give) == 0 {
		o.Give = nil
	}
	if len(o.Want) == 0 {
		o.Want = nil
	}
	return o
}
