package devauth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wordcheck/session-agent/internal/handler"
	"github.com/wordcheck/session-agent/internal/model"
)

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// NewRouter builds the development auth server.
func NewRouter(svc *Service, log zerolog.Logger) *gin.Engine {
	h := NewHandler(svc, log)

	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(log))

	r.GET("/ping", handler.Ping)
	r.POST("/dev/wx/login", h.IssueCode)

	api := r.Group("/api/v1")
	api.POST("/auth/wx-login", h.WxLogin)
	api.GET("/user/check-token", h.CheckToken)

	user := api.Group("/user")
	user.Use(handler.AuthMiddleware(svc))
	user.GET("", h.GetUser)
	user.POST("/bind-phone", h.BindPhone)

	return r
}

// IssueCode godoc
// @Summary Issue a single-use login code (wx.login stand-in)
// @Tags dev
// @Produce json
// @Param openid query string false "OpenID the code logs in as"
// @Success 200 {object} model.DevCodeResponse
// @Router /dev/wx/login [post]
func (h *Handler) IssueCode(c *gin.Context) {
	code := h.svc.IssueCode(c.Query("openid"))
	c.JSON(http.StatusOK, model.DevCodeResponse{Code: code})
}

// WxLogin godoc
// @Summary Exchange a login code for a token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Login request"
// @Success 200 {object} model.APIResponse
// @Failure 400 {object} model.APIResponse
// @Router /api/v1/auth/wx-login [post]
func (h *Handler) WxLogin(c *gin.Context) {
	if status := h.svc.nextFailure(); status != 0 {
		c.JSON(status, model.APIResponse{Error: "injected", Message: http.StatusText(status)})
		return
	}

	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, model.APIResponse{Error: "invalid_request", Message: "code is required"})
		return
	}

	token, user, err := h.svc.Exchange(req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeUsed):
			c.JSON(http.StatusBadRequest, model.APIResponse{Error: "code_used", Message: "login code already used"})
		case errors.Is(err, ErrCodeUnknown):
			c.JSON(http.StatusBadRequest, model.APIResponse{Error: "invalid_code", Message: err.Error()})
		default:
			h.log.Error().Err(err).Msg("failed to issue token")
			c.JSON(http.StatusInternalServerError, model.APIResponse{Error: "internal", Message: "failed to issue token"})
		}
		return
	}

	h.log.Info().Int64("user_id", user.ID).Msg("user logged in")
	c.JSON(http.StatusOK, model.APIResponse{
		Error: 0,
		Body: gin.H{
			"token":    token,
			"userInfo": user.Profile(),
		},
	})
}

// CheckToken godoc
// @Summary Report whether a token is still valid
// @Tags user
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /api/v1/user/check-token [get]
func (h *Handler) CheckToken(c *gin.Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	user, err := h.svc.ParseAccessToken(token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	if _, err := h.svc.User(user.ID); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetUser godoc
// @Summary Current user profile
// @Tags user
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.APIResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/user [get]
func (h *Handler) GetUser(c *gin.Context) {
	authUser := handler.GetAuthUser(c)
	if authUser == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	user, err := h.svc.User(authUser.ID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Error: 0, Body: user.Profile()})
}

// BindPhone godoc
// @Summary Bind the decrypted phone number to the current user
// @Tags user
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.BindPhoneRequest true "Encrypted phone payload"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/user/bind-phone [post]
func (h *Handler) BindPhone(c *gin.Context) {
	authUser := handler.GetAuthUser(c)
	if authUser == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}

	var req model.BindPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
		return
	}

	phone, err := h.svc.BindPhone(authUser.ID, req.EncryptedData, req.IV)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUserNotFound) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "phoneNumber": phone})
}
