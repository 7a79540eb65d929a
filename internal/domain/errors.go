package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotSubscribed    = errors.New("symbol not subscribed")
	ErrRateLimited      = errors.New("rate limited")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrCapacityExceeded = errors.New("subscription capacity exceeded")
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidWindow    = errors.New("invalid time window")
	ErrInvalidLevels    = errors.New("invalid level count")
	ErrInvalidDirection = errors.New("invalid position direction")
	ErrInvalidSection   = errors.New("invalid report section")
	ErrInsufficientData = errors.New("insufficient historical data")
	ErrNotInitialized   = errors.New("order book not initialized")
	ErrSymbolFailed     = errors.New("symbol stream failed")
	ErrStoreClosed      = errors.New("store closed")
	ErrDecode           = errors.New("record decode failed")
	ErrLeaseHeld        = errors.New("lease held by another owner")
)

// InsufficientDataError describes a soft analytics failure: the window holds
// fewer data points than the computation needs. It matches
// ErrInsufficientData with errors.Is.
type InsufficientDataError struct {
	Analytic string
	Need     int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient historical data: need %d, got %d", e.Analytic, e.Need, e.Got)
}

// Is makes errors.Is(err, ErrInsufficientData) true.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
