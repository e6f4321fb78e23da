// Package validator validates HTTP control-plane request bodies and the
// wire-format constraints from spec section 6: event names matching
// `[A-Za-z0-9:_-]+` and bounded in length, channel names bounded in length.
package validator

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("eventname", validateEventName)
	validate.RegisterValidation("channelname", validateChannelName)
}

var eventNamePattern = regexp.MustCompile(`^[A-Za-z0-9:_-]+$`)
var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_=@,.;:-]+$`)

const (
	maxEventNameLength   = 200
	maxChannelNameLength = 200
)

// ValidateStruct validates a struct, returning the first validator error.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateRequest validates a struct and returns a field->message map.
func ValidateRequest(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errs := make(map[string]string)
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			errs[strings.ToLower(e.Field())] = formatValidationError(e)
		}
	}
	return errs
}

// BindAndValidate binds a JSON body and validates it in one step.
func BindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format", "details": err.Error()})
		return false
	}

	if errs := ValidateRequest(req); errs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": errs})
		return false
	}
	return true
}

// EventName reports whether name is a legal client/published event name.
func EventName(name string) bool {
	return len(name) > 0 && len(name) <= maxEventNameLength && eventNamePattern.MatchString(name)
}

// ChannelName reports whether name is a legal channel name.
func ChannelName(name string) bool {
	return len(name) > 0 && len(name) <= maxChannelNameLength && channelNamePattern.MatchString(name)
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "email":
		return "invalid email format"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "eventname":
		return "must match [A-Za-z0-9:_-]+ and be at most 200 bytes"
	case "channelname":
		return "not a valid channel name"
	default:
		return fmt.Sprintf("validation failed: %s", e.Tag())
	}
}

func validateEventName(fl validator.FieldLevel) bool {
	return EventName(fl.Field().String())
}

func validateChannelName(fl validator.FieldLevel) bool {
	return ChannelName(fl.Field().String())
}
