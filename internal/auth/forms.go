package auth

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Form validation messages.
const (
	MessageFillAllFields     = "Please fill in all fields"
	MessagePasswordsMismatch = "Passwords do not match"
	MessagePasswordTooShort  = "Password must be at least 6 characters"
	MessageEnterEmail        = "Please enter your email"
)

// FormError is a caller-side validation failure. It never reaches the identity backend.
type FormError struct {
	Message string
}

// Error implements error.
func (formError *FormError) Error() string {
	return formError.Message
}

// SignupForm is the sign-up input.
type SignupForm struct {
	DisplayName     string `json:"displayName" validate:"required"`
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// LoginForm is the sign-in input.
type LoginForm struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ResetForm is the password reset request input.
type ResetForm struct {
	Email string `json:"email" validate:"required"`
}

var formValidator = validator.New()

// ValidateSignupForm checks required fields, then password confirmation, then password length.
func ValidateSignupForm(form SignupForm) error {
	return validateForm(form, MessageFillAllFields)
}

// ValidateLoginForm checks that email and password are present.
func ValidateLoginForm(form LoginForm) error {
	return validateForm(form, MessageFillAllFields)
}

// ValidateResetForm checks that an email is present.
func ValidateResetForm(form ResetForm) error {
	return validateForm(form, MessageEnterEmail)
}

func validateForm(form any, requiredMessage string) error {
	err := formValidator.Struct(form)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return &FormError{Message: requiredMessage}
	}
	mismatch := false
	tooShort := false
	for _, fieldError := range fieldErrors {
		switch fieldError.Tag() {
		case "required":
			return &FormError{Message: requiredMessage}
		case "eqfield":
			mismatch = true
		case "min":
			tooShort = true
		}
	}
	switch {
	case mismatch:
		return &FormError{Message: MessagePasswordsMismatch}
	case tooShort:
		return &FormError{Message: MessagePasswordTooShort}
	default:
		return &FormError{Message: requiredMessage}
	}
}
