package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordcheck/session-agent/internal/model"
)

// SessionManager is the part of the login coordinator page controllers use.
type SessionManager interface {
	Snapshot() model.StateSnapshot
	Current(ctx context.Context) *model.Session
	Login(ctx context.Context, code string) (*model.Session, error)
	LoginWithNewCode(ctx context.Context, auto bool) (*model.Session, error)
	Retry(ctx context.Context) (*model.Session, error)
	Logout(ctx context.Context)
	CheckTokenValidity(ctx context.Context) bool
	RefreshProfileIfNeeded(ctx context.Context) (model.UserProfile, error)
	BindPhone(ctx context.Context, encryptedData, iv string) (*model.BindPhoneResult, error)
}

type SessionHandler struct {
	mgr SessionManager
}

// NewSessionHandler serves the session routes on top of mgr.
func NewSessionHandler(mgr SessionManager) *SessionHandler {
	return &SessionHandler{mgr: mgr}
}

// Register mounts the session routes under rg.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/session", h.GetSession)
	rg.POST("/session/login", h.Login)
	rg.POST("/session/retry", h.Retry)
	rg.POST("/session/logout", h.Logout)
	rg.GET("/session/validity", h.Validity)
	rg.GET("/session/profile", h.Profile)
	rg.POST("/session/bind-phone", h.BindPhone)
}

// GetSession godoc
// @Summary Current session and login state
// @Tags session
// @Produce json
// @Success 200 {object} model.SessionResponse
// @Router /api/v1/session [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.response(h.mgr.Current(c.Request.Context())))
}

// Login godoc
// @Summary Log in
// @Description Exchanges the given code, or a freshly acquired one when code is empty.
// @Tags session
// @Accept json
// @Produce json
// @Param request body model.SessionLoginRequest false "Optional login code"
// @Success 200 {object} model.SessionResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /api/v1/session/login [post]
func (h *SessionHandler) Login(c *gin.Context) {
	var req model.SessionLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "PARAM_ERROR", Message: "invalid request"})
		return
	}

	ctx := c.Request.Context()
	var (
		sess *model.Session
		err  error
	)
	if req.Code != "" {
		sess, err = h.mgr.Login(ctx, req.Code)
	} else {
		sess, err = h.mgr.LoginWithNewCode(ctx, false)
	}
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(sess))
}

// Retry godoc
// @Summary Retry a failed login with a fresh code
// @Tags session
// @Produce json
// @Success 200 {object} model.SessionResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /api/v1/session/retry [post]
func (h *SessionHandler) Retry(c *gin.Context) {
	sess, err := h.mgr.Retry(c.Request.Context())
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.response(sess))
}

// Logout godoc
// @Summary Log out
// @Tags session
// @Produce json
// @Success 200 {object} model.LogoutResponse
// @Router /api/v1/session/logout [post]
func (h *SessionHandler) Logout(c *gin.Context) {
	h.mgr.Logout(c.Request.Context())
	c.JSON(http.StatusOK, model.LogoutResponse{Status: "logged_out"})
}

// Validity godoc
// @Summary Validate the cached token
// @Tags session
// @Produce json
// @Success 200 {object} model.ValidityResponse
// @Router /api/v1/session/validity [get]
func (h *SessionHandler) Validity(c *gin.Context) {
	c.JSON(http.StatusOK, model.ValidityResponse{Valid: h.mgr.CheckTokenValidity(c.Request.Context())})
}

// Profile godoc
// @Summary Cached profile, refreshed when stale
// @Tags session
// @Produce json
// @Success 200 {object} model.ProfileResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/session/profile [get]
func (h *SessionHandler) Profile(c *gin.Context) {
	profile, err := h.mgr.RefreshProfileIfNeeded(c.Request.Context())
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.ProfileResponse{UserInfo: profile})
}

// BindPhone godoc
// @Summary Bind the WeChat phone number
// @Tags session
// @Accept json
// @Produce json
// @Param request body model.BindPhoneRequest true "Encrypted phone payload"
// @Success 200 {object} model.BindPhoneResult
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/session/bind-phone [post]
func (h *SessionHandler) BindPhone(c *gin.Context) {
	var req model.BindPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "PARAM_ERROR", Message: "invalid request"})
		return
	}
	result, err := h.mgr.BindPhone(c.Request.Context(), req.EncryptedData, req.IV)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SessionHandler) response(sess *model.Session) model.SessionResponse {
	resp := model.SessionResponse{State: h.mgr.Snapshot()}
	if sess != nil {
		resp.LoggedIn = true
		resp.UserInfo = sess.Profile
		if !sess.ExpiresAt.IsZero() {
			exp := sess.ExpiresAt
			resp.ExpiresAt = &exp
		}
	}
	return resp
}
