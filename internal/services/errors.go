package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount                  = errors.New("invalid amount")
	ErrInvalidAction                  = errors.New("invalid action")
	ErrInvalidUserID                  = errors.New("invalid user id")
	ErrInvalidRefID                   = errors.New("invalid ref id")
	ErrUserNotFound                   = errors.New("user not found")
	ErrInsufficientCredits            = errors.New("insufficient credits")
	ErrSingleTransactionLimitExceeded = errors.New("single transaction limit exceeded")
	ErrDailyLimitExceeded             = errors.New("daily limit exceeded")
	ErrCodeNotFound                   = errors.New("redeem code not found")
	ErrCodeAlreadyUsed                = errors.New("redeem code already used")
	ErrCodeDisabled                   = errors.New("redeem code disabled")
	ErrCodeExpired                    = errors.New("redeem code expired")
	ErrCodeAlreadyDisabled            = errors.New("redeem code already disabled")
	ErrInvalidCodeCount               = errors.New("invalid code count")
)

type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

type SingleTransactionLimitError struct {
	Limit     int64
	Requested int64
}

func (e *SingleTransactionLimitError) Error() string {
	return fmt.Sprintf("single transaction limit exceeded: limit %d, requested %d", e.Limit, e.Requested)
}

func (e *SingleTransactionLimitError) Is(target error) bool {
	return target == ErrSingleTransactionLimitExceeded
}

type DailyLimitError struct {
	DailyLimit    int64
	TodayConsumed int64
	Requested     int64
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily limit exceeded: limit %d, consumed today %d, requested %d", e.DailyLimit, e.TodayConsumed, e.Requested)
}

func (e *DailyLimitError) Is(target error) bool {
	return target == ErrDailyLimitExceeded
}

// CodeUsedError reports who redeemed a code so a caller can recognise its own retry.
type CodeUsedError struct {
	Code   string
	UsedBy string
}

func (e *CodeUsedError) Error() string {
	return fmt.Sprintf("redeem code %s already used", e.Code)
}

func (e *CodeUsedError) Is(target error) bool {
	return target == ErrCodeAlreadyUsed
}
