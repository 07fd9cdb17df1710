// Package validation provides input validation for the omerta command API.
//
// Malformed commands are rejected here, before any engine state mutates.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// idRegex validates entity identifiers (prefixed random IDs or plain slugs)
	idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{1,63}$`)
)

// ownerTypes enumerates the entity kinds that can carry a risk profile.
var ownerTypes = map[string]bool{
	"player":     true,
	"crew":       true,
	"business":   true,
	"territory":  true,
	"enterprise": true,
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a well-formed entity ID
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidOwnerType checks if a string names a known risk-profile owner kind
func IsValidOwnerType(t string) bool {
	return ownerTypes[strings.ToLower(t)]
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidID checks if a field is a well-formed entity ID
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be a lowercase alphanumeric ID (2-64 chars)"}
		}
		return nil
	}
}

// ValidOwnerType checks if a field names a known owner kind
func ValidOwnerType(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidOwnerType(value) {
			return &ValidationError{Field: field, Message: "must be one of: player, crew, business, territory, enterprise"}
		}
		return nil
	}
}

// InRange checks a numeric field against [min, max]
func InRange(field string, value, min, max float64) func() *ValidationError {
	return func() *ValidationError {
		if value < min || value > max {
			return &ValidationError{Field: field, Message: "out of range"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IDParamMiddleware validates the named URL parameter on routes that use it.
// Apply to route groups that include ID params to reject malformed IDs early.
func IDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "identifier must be lowercase alphanumeric (2-64 chars)",
			})
			return
		}
		c.Next()
	}
}
