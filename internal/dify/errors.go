package dify

import (
	"errors"
	"fmt"
)

// ErrConfigIncomplete means the base URL or API key is missing. Never
// retried; surfaced to the user as a configuration problem.
var ErrConfigIncomplete = errors.New("dify 配置不完整，请先在管理界面配置")

// UpstreamError is a non-2xx response from the Dify API. The upstream
// message is surfaced to the user verbatim; no automatic retry.
type UpstreamError struct {
	Status  int
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("dify api error: status=%d code=%s", e.Status, e.Code)
}

// TransportError is a network-level failure (timeout, connection reset).
// Surfaced to the user as a generic failure; retry is resending the message.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "dify transport failure: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
