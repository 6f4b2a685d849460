package controller

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/vibast-solutions/ms-go-credentials/app/dto"
	httpdto "github.com/vibast-solutions/ms-go-credentials/app/dto/http"
	"github.com/vibast-solutions/ms-go-credentials/app/middleware"
	"github.com/vibast-solutions/ms-go-credentials/app/security"
	"github.com/vibast-solutions/ms-go-credentials/app/service"
	"github.com/vibast-solutions/ms-go-credentials/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthController struct {
	authService service.AuthService
	now         func() time.Time
}

func NewAuthController(authService service.AuthService) *AuthController {
	return &AuthController{authService: authService, now: time.Now}
}

func (c *AuthController) Register(ctx echo.Context) error {
	req, err := types.NewRegisterRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind register request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Register validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Register request received")
	result, err := c.authService.Register(ctx.Request().Context(), req)
	if err != nil && !errors.Is(err, service.ErrDeliveryFailed) {
		return c.writeError(ctx, err, logrus.WithField("email", req.Email), "Register failed")
	}

	return ctx.JSON(statusFor(err), httpdto.RegisterResponse{
		OK:             true,
		User:           userResponse(result.User),
		DeliveryFailed: err != nil,
	})
}

func (c *AuthController) Login(ctx echo.Context) error {
	req, err := types.NewLoginRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind login request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Login validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	logrus.WithField("email", req.Email).Info("Login request received")
	result, err := c.authService.Login(ctx.Request().Context(), req)
	if err != nil && !errors.Is(err, service.ErrDeliveryFailed) {
		return c.writeError(ctx, err, logrus.WithField("email", req.Email), "Login failed")
	}

	resp := httpdto.LoginResponse{
		TwoFARequired:  result.TwoFARequired,
		User:           userResponse(result.User),
		DeliveryFailed: err != nil,
	}
	if !result.TwoFARequired {
		resp.Token = result.Token
		resp.ExpiresIn = c.expiresIn(result.ExpiresAt)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":         result.User.ID,
		"two_fa_required": result.TwoFARequired,
	}).Info("Login accepted")
	return ctx.JSON(statusFor(err), resp)
}

func (c *AuthController) VerifyTwoFactor(ctx echo.Context) error {
	req, err := types.NewVerifyTwoFactorRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind verify-2fa request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("user_id", req.UserID).Debug("Verify-2fa validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.authService.VerifyTwoFactor(ctx.Request().Context(), req)
	if err != nil {
		return c.writeError(ctx, err, logrus.WithField("user_id", req.UserID), "Verify-2fa failed")
	}

	logrus.WithField("user_id", result.User.ID).Info("Second factor verified")
	return ctx.JSON(http.StatusOK, httpdto.VerifyTwoFactorResponse{
		Token:     result.Token,
		ExpiresIn: c.expiresIn(result.ExpiresAt),
	})
}

func (c *AuthController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind forgot-password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Forgot-password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	err = c.authService.ForgotPassword(ctx.Request().Context(), req)
	if err != nil && !errors.Is(err, service.ErrDeliveryFailed) {
		return c.writeError(ctx, err, logrus.WithField("email", req.Email), "Forgot-password failed")
	}

	return ctx.JSON(statusFor(err), httpdto.OKResponse{OK: true, DeliveryFailed: err != nil})
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		logrus.WithError(err).Debug("Failed to bind reset-password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Reset-password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	err = c.authService.ResetPassword(ctx.Request().Context(), req)
	if err != nil && !errors.Is(err, service.ErrDeliveryFailed) {
		return c.writeError(ctx, err, logrus.WithField("email", req.Email), "Reset-password failed")
	}

	return ctx.JSON(statusFor(err), httpdto.OKResponse{OK: true, DeliveryFailed: err != nil})
}

// Session describes the bearer token validated by RequireAuth.
func (c *AuthController) Session(ctx echo.Context) error {
	claims, ok := ctx.Get(middleware.ContextKeyClaims).(*security.Claims)
	if !ok || claims.ExpiresAt == nil {
		logrus.Warn("Session lookup without validated claims")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
	}

	return ctx.JSON(http.StatusOK, httpdto.SessionResponse{
		User:      httpdto.User{ID: claims.UserID, Email: claims.Email},
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
}

func (c *AuthController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, httpdto.OKResponse{OK: true})
}

func (c *AuthController) writeError(ctx echo.Context, err error, log *logrus.Entry, msg string) error {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrWeakPassword):
		log.Debug(msg + ": invalid input")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrUserExists):
		log.Warn(msg + ": email already registered")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: service.ErrUserExists.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		log.Warn(msg + ": invalid credentials")
		return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: service.ErrInvalidCredentials.Error()})
	case errors.Is(err, service.ErrUserNotFound):
		log.Warn(msg + ": user not found")
		return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: service.ErrUserNotFound.Error()})
	case errors.Is(err, service.ErrInvalidOrExpired):
		log.Warn(msg + ": invalid or expired challenge")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: service.ErrInvalidOrExpired.Error()})
	}

	log.WithError(err).Error(msg)
	return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
}

func (c *AuthController) expiresIn(expiresAt time.Time) int64 {
	secs := int64(math.Round(expiresAt.Sub(c.now()).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// The state change behind a delivery failure is committed, so it is not an error status.
func statusFor(err error) int {
	if errors.Is(err, service.ErrDeliveryFailed) {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func userResponse(u dto.UserSummary) httpdto.User {
	return httpdto.User{ID: u.ID, Email: u.Email}
}
