// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

// Package validation provides struct validation using go-playground/validator
// v10 behind a thread-safe singleton instance. Request payload structs carry
// `validate` tags; handlers call ValidateStruct and translate failures into
// the API's VALIDATION_ERROR envelope.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator, creating it on first use.
// The instance caches struct metadata, so sharing it is both safe and fast.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error returns a human-readable message.
func (e *FieldError) Error() string {
	return e.Message
}

// RequestValidationError is a collection of field failures for one payload.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

// Error implements the error interface.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// Details returns a map suitable for the APIError details field.
func (ve *RequestValidationError) Details() map[string]interface{} {
	details := make(map[string]interface{}, len(ve.errors))
	for _, err := range ve.errors {
		details[err.Field] = err.Message
	}
	return details
}

// ValidateStruct validates v against its `validate` tags.
// Returns nil on success or a *RequestValidationError describing every
// failed field.
func ValidateStruct(v interface{}) *RequestValidationError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return &RequestValidationError{errors: []FieldError{{
			Field:   "request",
			Message: "request payload is not a validatable struct",
		}}}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{errors: []FieldError{{
			Field:   "request",
			Message: err.Error(),
		}}}
	}

	ve := &RequestValidationError{errors: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		ve.errors = append(ve.errors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: messageFor(fe),
		})
	}
	return ve
}

// messageFor builds a readable message for one field failure.
func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must have at least %s elements or be at least %s", fe.Field(), fe.Param(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s elements or be at most %s", fe.Field(), fe.Param(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation on %s", fe.Field(), fe.Tag())
	}
}
