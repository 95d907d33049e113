package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"credvault/internal/app"
	"credvault/internal/transport/http/response"
	"credvault/internal/validation"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterResponse struct {
	Message string `json:"message"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req validation.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.MsgInvalidPayload)
		return
	}

	if err := h.authService.Register(c.Request.Context(), req); err != nil {
		writeAuthError(c, err)
		return
	}

	response.OK(c, RegisterResponse{Message: "Register success"})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req validation.LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.MsgInvalidPayload)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	response.OK(c, LoginResponse{Token: result.Token, Message: "Login success"})
}

func writeAuthError(c *gin.Context, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		response.Error(c, http.StatusBadRequest, verr.Error())
	case errors.Is(err, app.ErrEmailExists):
		response.Error(c, http.StatusConflict, response.MsgEmailExists)
	case errors.Is(err, app.ErrInvalidCredentials):
		response.Error(c, http.StatusUnauthorized, response.MsgInvalidCredentials)
	default:
		response.Error(c, http.StatusInternalServerError, response.MsgInternal)
	}
}
