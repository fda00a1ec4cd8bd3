package push

import (
	"errors"
	"fmt"
)

// Error kinds. Components wrap one of these with %w and callers classify
// with errors.Is.
var (
	// ErrInvalidInput: missing/empty field or a schedule time not in the future.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStore: the recipient store failed.
	ErrStore = errors.New("store error")
	// ErrGateway: the push backend rejected or failed the call.
	ErrGateway = errors.New("gateway error")
	// ErrDispatchFailed: a dispatch could not be completed; wraps ErrStore or ErrGateway.
	ErrDispatchFailed = errors.New("dispatch failed")
)

func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func GatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrGateway, op, err)
}

func DispatchFailed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
}
