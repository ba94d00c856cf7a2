// Package handler exposes the registration service over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/mailcode/internal/registration"
)

// Response messages not produced by the verification store.
const (
	MsgInvalidEmail = "Invalid email format."
	MsgCooldown     = "Please wait 1 minute before requesting a new code."
	MsgSent         = "Verification code sent successfully."
	MsgSendFailed   = "An error occurred while sending the verification code."
	MsgInvalidInput = "Invalid email or code format."
)

// apiResponse is the envelope every registration endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type sendCodeRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RegistrationHandler handles the send/verify/status endpoints.
type RegistrationHandler struct {
	svc    *registration.Service
	logger *zap.Logger
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(svc *registration.Service, logger *zap.Logger) *RegistrationHandler {
	return &RegistrationHandler{svc: svc, logger: logger}
}

// Register mounts the routes under rg.
func (h *RegistrationHandler) Register(rg *gin.RouterGroup) {
	reg := rg.Group("/registration")
	{
		reg.POST("/send-code", h.SendCode)
		reg.POST("/verify-code", h.VerifyCode)
		reg.GET("/status", h.Status)
	}
}

// SendCode handles POST /registration/send-code.
func (h *RegistrationHandler) SendCode(c *gin.Context) {
	var req sendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgInvalidEmail})
		return
	}

	err := h.svc.SendCode(c.Request.Context(), req.Email)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, apiResponse{Success: true, Message: MsgSent})
	case errors.Is(err, registration.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgInvalidEmail})
	case errors.Is(err, registration.ErrCooldown):
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgCooldown})
	case errors.Is(err, registration.ErrDeliveryUnavailable):
		h.logger.Error("send code: delivery unavailable", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, apiResponse{Message: MsgSendFailed})
	default:
		h.logger.Error("send code", zap.String("email", req.Email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, apiResponse{Message: MsgSendFailed})
	}
}

// VerifyCode handles POST /registration/verify-code.
func (h *RegistrationHandler) VerifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgInvalidInput})
		return
	}

	res, err := h.svc.VerifyCode(req.Email, req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgInvalidInput})
		return
	}
	if !res.Success() {
		c.JSON(http.StatusBadRequest, apiResponse{Message: res.Message()})
		return
	}
	c.JSON(http.StatusOK, apiResponse{Success: true, Message: res.Message()})
}

// Status handles GET /registration/status?email=.
func (h *RegistrationHandler) Status(c *gin.Context) {
	st, err := h.svc.Status(c.Query("email"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apiResponse{Message: MsgInvalidEmail})
		return
	}
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: st})
}
