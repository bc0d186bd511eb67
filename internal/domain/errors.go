package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "quote", "submit", "discover")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrMarketNotTracked is returned when a crank is requested for a market
	// the scheduler has never discovered. Not retriable, not fatal.
	ErrMarketNotTracked = errors.New("market not tracked")

	// ErrNoQuote is returned when a single quote source has no usable price.
	ErrNoQuote = errors.New("no quote available")

	// ErrPriceUnavailable is returned when every source failed and no cached
	// price exists.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrSubmitExhausted is returned after the submitter's retry budget is
	// spent.
	ErrSubmitExhausted = errors.New("submission retries exhausted")
)
