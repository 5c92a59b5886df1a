package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// phonePattern accepts E.164-like numbers: a leading '+' then 7 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+\d{7,15}$`)

// PhoneTag is the validator tag registered by RegisterValidations.
const PhoneTag = "sms_phone"

// IsValidPhone reports whether phone is an acceptable SMS destination.
// Surrounding whitespace is not trimmed; " +15551234567" is invalid.
func IsValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidatePhone returns a validation AppError for a missing or malformed number.
func ValidatePhone(phone string) error {
	if phone == "" {
		return NewAppError(ErrCodeValidationMissingField, "phone number is required", nil)
	}
	if !IsValidPhone(phone) {
		return NewAppError(ErrCodeValidationInvalidPhone,
			fmt.Sprintf("phone number %s is not in +<7-15 digits> format", MaskPhone(phone)), nil)
	}
	return nil
}

// RegisterValidations installs the SMS-specific struct tags on v.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation(PhoneTag, func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	})
}

// NewValidator returns a validator with the SMS tags registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterValidations(v); err != nil {
		// Registration only fails on an empty tag or nil func.
		panic(err)
	}
	return v
}

// ValidateEvent checks the structural integrity of a creation event.
func ValidateEvent(v *validator.Validate, evt *QueueItemCreatedEvent) error {
	if err := v.Struct(evt); err != nil {
		var missing []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
		}
		return NewAppErrorWithDetails(ErrCodeValidationInvalidEvent,
			"event is missing required fields: "+strings.Join(missing, ", "), err,
			map[string]any{"fields": missing})
	}
	if _, err := evt.Ref(); err != nil {
		return err
	}
	return nil
}

// ValidateMessage checks a provider request before it leaves the process. A
// destination that fails the sms_phone tag is reported the way ValidatePhone
// reports it.
func ValidateMessage(v *validator.Validate, msg SMSMessage) error {
	if err := v.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == PhoneTag {
					return ValidatePhone(msg.To)
				}
			}
		}
		return NewAppError(ErrCodeValidationInvalidEvent, "sms message is invalid", err)
	}
	return nil
}
