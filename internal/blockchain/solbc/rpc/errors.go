// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEndpoints возникает, когда не задан ни один RPC узел
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrManagerClosed возникает при вызове после Close
	ErrManagerClosed = errors.New("rpc manager is closed")
)

// nonRetryablePatterns are error fragments for which another attempt cannot
// succeed: malformed input, duplicate submission, stale reference, and
// program-level rejections.
var nonRetryablePatterns = []string{
	"invalid params",
	"invalid param",
	"malformed",
	"already been processed",
	"alreadyprocessed",
	"blockhash not found",
	"blockhashnotfound",
	"custom program error",
}

// IsNonRetryable reports whether err must be returned without further attempts.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range nonRetryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Error представляет ошибку RPC с дополнительным контекстом
type Error struct {
	Err     error
	NodeURL string
	Method  string
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.NodeURL, e.Err)
}

// Unwrap возвращает оригинальную ошибку
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError создает новую ошибку RPC
func NewError(err error, nodeURL, method string) error {
	return &Error{
		Err:     err,
		NodeURL: nodeURL,
		Method:  method,
	}
}

// NonRetryableError marks an error that was returned after a single attempt.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every endpoint was tried and failed.
type ExhaustedError struct {
	Label     string
	Endpoints int
	Attempts  int
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d RPC endpoints failed after %d attempts: %v",
		e.Label, e.Endpoints, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}
