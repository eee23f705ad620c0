package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidAction = errors.New("invalid action")
	ErrInvalidRefID  = errors.New("invalid ref id")
	ErrInvalidCode   = errors.New("invalid redeem code")
)

var (
	userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:@|-]{1,128}$`)
	actionRegex = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)
	refIDRegex  = regexp.MustCompile(`^[\x21-\x7E]{1,255}$`)
	codeRegex   = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{16}$`)
)

// ValidateUserID accepts the opaque ids issued by the identity provider.
func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}

func ValidateAction(action string) error {
	if !actionRegex.MatchString(action) {
		return ErrInvalidAction
	}
	return nil
}

func ValidateRefID(refID string) error {
	if !refIDRegex.MatchString(refID) {
		return ErrInvalidRefID
	}
	return nil
}

// ValidateCode expects a code already passed through NormalizeCode.
func ValidateCode(code string) error {
	if !codeRegex.MatchString(code) {
		return ErrInvalidCode
	}
	return nil
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
