package agent

import (
	"errors"
	"fmt"
	"testing"
)

func TestToolErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		typ  ToolErrorType
		want bool
	}{
		{ToolErrorTimeout, true},
		{ToolErrorNetwork, true},
		{ToolErrorNotFound, false},
		{ToolErrorInvalidInput, false},
		{ToolErrorPermission, false},
		{ToolErrorExecution, false},
		{ToolErrorUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		msg  string
		want ToolErrorType
	}{
		{"open foo: no such file or directory", ToolErrorNotFound},
		{"missing required path", ToolErrorInvalidInput},
		{"context deadline exceeded", ToolErrorTimeout},
		{"dial tcp: connection refused", ToolErrorNetwork},
		{"permission denied", ToolErrorPermission},
		{"something else went wrong", ToolErrorExecution},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyToolError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("classifyToolError(%q) = %s, want %s", tt.msg, got, tt.want)
			}
		})
	}
}

func TestIsTransientProviderError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"429 rate limit exceeded", true},
		{"request timeout", true},
		{"502 bad gateway", true},
		{"401 unauthorized", false},
		{"invalid request body", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := isTransientProviderError(errors.New(tt.msg)); got != tt.want {
				t.Errorf("isTransientProviderError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestGetToolError(t *testing.T) {
	inner := &ToolError{Type: ToolErrorTimeout, ToolName: "shell_exec", Message: "hung"}
	wrapped := fmt.Errorf("dispatch failed: %w", inner)

	if !IsToolError(wrapped) {
		t.Error("wrapped ToolError not detected")
	}
	got, ok := GetToolError(wrapped)
	if !ok || got.ToolName != "shell_exec" {
		t.Errorf("GetToolError = %+v, %v", got, ok)
	}
	if IsToolError(errors.New("plain")) {
		t.Error("plain error misdetected as ToolError")
	}
}

func TestGuardRejectedError_Unwrap(t *testing.T) {
	rej := &GuardRejectedError{ToolName: "fs_read", Reason: "empty path"}
	if !errors.Is(rej, ErrGuardRejected) {
		t.Error("GuardRejectedError does not unwrap to ErrGuardRejected")
	}
}
