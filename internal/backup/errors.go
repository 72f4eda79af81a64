package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCatalog means the discovered account list is structurally unusable.
	// It aborts the whole run.
	ErrInvalidCatalog = errors.New("invalid account catalog")

	// ErrInvalidRetention is returned for a retention count below one.
	ErrInvalidRetention = errors.New("invalid retention count")

	// ErrVolumeUnavailable is returned when a staging or destination volume cannot be queried.
	ErrVolumeUnavailable = errors.New("volume unavailable")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StepError records the state an account was in when a collaborator failed.
type StepError struct {
	AccountID string
	State     State
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.AccountID, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepErr(accountID string, state State, err error) error {
	return &StepError{AccountID: accountID, State: state, Err: err}
}
