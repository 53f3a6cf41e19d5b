// Verification HTTP handlers.
//
// This file exposes the one-time code endpoints that gate the researcher
// views:
//   - POST /otp/send    (issue and deliver a code)
//   - POST /otp/verify  (consume a code, returns a bearer token)
//   - GET  /otp/status  (whether a live code exists)
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/services"
)

//
// DTOs
//

// SendOTPRequest is the JSON payload for issuing a code.
type SendOTPRequest struct {
	Email string `json:"email" example:"researcher@example.org"`
}

// SendOTPResponse reports a delivered code's lifetime in milliseconds.
type SendOTPResponse struct {
	Success   bool   `json:"success"   example:"true"`
	Message   string `json:"message"   example:"verification code sent"`
	ExpiresIn int64  `json:"expiresIn" example:"600000"`
}

// VerifyOTPRequest is the JSON payload for verifying a code.
type VerifyOTPRequest struct {
	Email string `json:"email" example:"researcher@example.org"`
	OTP   string `json:"otp"   example:"042917"`
}

// VerifyOTPResponse carries the researcher bearer token.
type VerifyOTPResponse struct {
	Success   bool      `json:"success"    example:"true"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OTPStatusResponse tells whether a live code exists for an address.
type OTPStatusResponse struct {
	Success      bool  `json:"success"             example:"true"`
	HasActiveOTP bool  `json:"hasActiveOtp"        example:"true"`
	ExpiresIn    int64 `json:"expiresIn,omitempty" example:"412000"`
}

//
// Handlers
//

// SendOTP godoc
// @ID          sendOTP
// @Summary     Send a verification code
// @Description Issues a six-digit code for the address, replacing any earlier one, and sends it by email.
// @Tags        Verification
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SendOTPRequest  true  "Target address"
//
// @Success     200  {object}  handlers.SendOTPResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid address"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Delivery unavailable or failed"
// @Router      /otp/send [post]
func (h *Handlers) SendOTP(c *gin.Context) {
	var req SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		fail(c, http.StatusBadRequest, ErrCodeInvalidTarget, "valid email is required")
		return
	}

	ttl, err := h.Verification.Issue(c.Request.Context(), req.Email)
	switch {
	case errors.Is(err, services.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTarget, "valid email is required")
	case errors.Is(err, services.ErrChannelUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeChannelUnavailable, "email service is not configured")
	case errors.Is(err, services.ErrDeliveryFailed):
		fail(c, http.StatusServiceUnavailable, ErrCodeDeliveryFailed, "failed to send verification code")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, SendOTPResponse{
			Success:   true,
			Message:   "verification code sent",
			ExpiresIn: ttl.Milliseconds(),
		})
	}
}

// VerifyOTP godoc
// @ID          verifyOTP
// @Summary     Verify a code
// @Description Consumes the code for the address. On success a researcher bearer token is returned.
// @Tags        Verification
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.VerifyOTPRequest  true  "Address and code"
//
// @Success     200  {object}  handlers.VerifyOTPResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing fields"
// @Failure     401  {object}  handlers.ErrorResponse  "Wrong code"
// @Failure     404  {object}  handlers.ErrorResponse  "No code issued"
// @Failure     410  {object}  handlers.ErrorResponse  "Code expired"
// @Router      /otp/verify [post]
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and otp are required")
		return
	}

	err := h.Verification.Verify(c.Request.Context(), req.Email, req.OTP)
	switch {
	case errors.Is(err, services.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTarget, "valid email is required")
		return
	case errors.Is(err, services.ErrCodeNotFound):
		fail(c, http.StatusNotFound, ErrCodeCodeNotFound, "no verification code found; request a new one")
		return
	case errors.Is(err, services.ErrCodeExpired):
		fail(c, http.StatusGone, ErrCodeCodeExpired, "verification code expired; request a new one")
		return
	case errors.Is(err, services.ErrCodeMismatch):
		fail(c, http.StatusUnauthorized, ErrCodeCodeMismatch, "invalid verification code")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := VerifyOTPResponse{Success: true}
	if h.Tokens != nil {
		email, _ := services.NormalizeTarget(req.Email)
		tok, exp, err := h.Tokens.Issue(email)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not issue token")
			return
		}
		resp.Token, resp.ExpiresAt = tok, exp
	}
	ok(c, http.StatusOK, resp)
}

// OTPStatus godoc
// @ID          otpStatus
// @Summary     Code status
// @Description Reports whether the address holds a live code and how long it remains valid. Expired codes are removed.
// @Tags        Verification
// @Produce     json
//
// @Param       email  query  string  true  "Target address"  example(researcher@example.org)
//
// @Success     200  {object}  handlers.OTPStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing email"
// @Router      /otp/status [get]
func (h *Handlers) OTPStatus(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email parameter is required")
		return
	}
	st, err := h.Verification.Status(c.Request.Context(), email)
	switch {
	case errors.Is(err, services.ErrInvalidTarget):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTarget, "valid email is required")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	out := OTPStatusResponse{Success: true, HasActiveOTP: st.Live}
	if st.Live {
		out.ExpiresIn = st.Remaining.Milliseconds()
	}
	ok(c, http.StatusOK, out)
}
