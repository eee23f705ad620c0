package credits

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrFractionalAmount = errors.New("amount must be a whole number of credits")
	ErrAmountTooLarge   = errors.New("amount out of range")
)

// ParseAmount parses a positive whole credit amount. Inputs like "10.0" are
// accepted, "10.5" is not.
func ParseAmount(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !value.IsInteger() {
		return 0, ErrFractionalAmount
	}
	if value.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if !value.BigInt().IsInt64() {
		return 0, ErrAmountTooLarge
	}
	return value.IntPart(), nil
}
