package response

import (
	"github.com/gin-gonic/gin"
)

const (
	ErrCodeSuccess      = 2000 // Success
	ErrCodeParamInvalid = 4000 // Request body or query invalid

	// Auth
	ErrCodeUnauthorized = 4010 // Missing or invalid bearer token
	ErrCodeForbidden    = 4030 // Role not allowed

	// Resources
	ErrCodeNotFound    = 4040 // Notification or room not found
	ErrCodeTooLarge    = 4130 // Attachment too large
	ErrCodeUnsupported = 4150 // Attachment type not allowed
	ErrCodeRateLimited = 4290 // Too many requests
	ErrCodeInternal    = 5000 // Unexpected server error
	ErrCodeUnavailable = 5030 // Optional backend not configured
)

// message
var msg = map[int]string{
	ErrCodeSuccess:      "success",
	ErrCodeParamInvalid: "invalid request",

	ErrCodeUnauthorized: "unauthorized",
	ErrCodeForbidden:    "forbidden",

	ErrCodeNotFound:    "not found",
	ErrCodeTooLarge:    "attachment too large",
	ErrCodeUnsupported: "unsupported attachment type",
	ErrCodeRateLimited: "rate limit exceeded",
	ErrCodeInternal:    "internal server error",
	ErrCodeUnavailable: "service unavailable",
}

// Msg returns the message for code.
func Msg(code int) string {
	if m, ok := msg[code]; ok {
		return m
	}
	return msg[ErrCodeInternal]
}

// Error aborts the request with {"error", "code"} and an optional
// "details" string.
func Error(c *gin.Context, status, code int, details string) {
	body := gin.H{"error": Msg(code), "code": code}
	if details != "" {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}
