package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the loop's unconditional terminal conditions.
var (
	ErrLoopDetected     = errors.New("agent: loop detected")
	ErrContextCancelled = errors.New("agent: context cancelled")
	ErrNoProvider       = errors.New("agent: no LLM provider configured")
	ErrToolNotFound     = errors.New("agent: tool not found")
	ErrGuardRejected    = errors.New("agent: tool call rejected by guard")
)

// ToolErrorType classifies a failed tool execution for retry/telemetry
// purposes.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether the model/loop should expect a retry of this
// class of failure to plausibly succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork:
		return true
	default:
		return false
	}
}

// ToolError is error category 2 of the taxonomy: a tool returned
// {success:false, error, errorDetails?}. It is counted in toolErrorCount and
// surfaced to the model verbatim (truncated to context budget).
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %q failed (%s): %s: %v", e.ToolName, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %q failed (%s): %s", e.ToolName, e.Type, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

// classifyToolError is a cheap string-heuristic classifier, good enough to
// route retries without requiring every tool implementation to populate a
// structured error type.
func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such file"):
		return ToolErrorNotFound
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "missing required"):
		return ToolErrorInvalidInput
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns"):
		return ToolErrorNetwork
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return ToolErrorPermission
	default:
		return ToolErrorExecution
	}
}

// GuardRejectedError is error category 1: an invariant violation caught
// before dispatch. It is never counted as a tool error.
type GuardRejectedError struct {
	ToolName string
	Reason   string
	Hint     string
}

func (e *GuardRejectedError) Error() string {
	return fmt.Sprintf("guard rejected %q: %s", e.ToolName, e.Reason)
}

func (e *GuardRejectedError) Unwrap() error { return ErrGuardRejected }

// ProviderErrorType classifies a transient LLM-provider error for the
// retry-at-next-tier policy.
type ProviderErrorType string

const (
	ProviderErrorTimeout        ProviderErrorType = "timeout"
	ProviderErrorRateLimit      ProviderErrorType = "rate_limit"
	ProviderErrorAuth           ProviderErrorType = "auth"
	ProviderErrorServer         ProviderErrorType = "server_error"
	ProviderErrorInvalidRequest ProviderErrorType = "invalid_request"
	ProviderErrorUnknown        ProviderErrorType = "unknown"
)

func classifyProviderError(err error) ProviderErrorType {
	if err == nil {
		return ProviderErrorUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ProviderErrorRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ProviderErrorTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "forbidden"):
		return ProviderErrorAuth
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return ProviderErrorServer
	case strings.Contains(msg, "invalid"):
		return ProviderErrorInvalidRequest
	default:
		return ProviderErrorUnknown
	}
}

// isTransientProviderError reports whether the error taxonomy's category 3
// retry-at-next-tier policy applies.
func isTransientProviderError(err error) bool {
	switch classifyProviderError(err) {
	case ProviderErrorTimeout, ProviderErrorRateLimit, ProviderErrorServer:
		return true
	default:
		return false
	}
}

// tierEscalation is error taxonomy category 4: an internal control signal
// carrying {reason, iteration}, never user-visible, consumed only by the
// outer Execute. Implemented as a tagged result bubbled through one level
// (see runLoop), not as a general exception; it satisfies the error
// interface only so it can travel through a (result, error) return without
// a second sentinel channel.
type tierEscalation struct {
	Reason    string
	Iteration int
}

func (e *tierEscalation) Error() string {
	return fmt.Sprintf("tier escalation requested at iteration %d: %s", e.Iteration, e.Reason)
}

// LoopError is error taxonomy category 5: a fatal, unhandled condition in
// the iteration body. The loop itself closes failed runs through
// failureResult and does not construct a LoopError.
type LoopError struct {
	Phase     Phase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent: fatal error in phase %s at iteration %d: %s: %v", e.Phase, e.Iteration, e.Message, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// IsToolError reports whether err (or something it wraps) is a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// GetToolError extracts a *ToolError from err, if present.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
