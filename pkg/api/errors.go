package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// ProviderError is a failure talking to the cloud provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code returns the provider's error code, or "" for transport failures.
func (e *ProviderError) Code() string {
	var ae smithy.APIError
	if errors.As(e.Err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// NotSafeToUpdateError refuses a stack update while the stack is mid-transition.
type NotSafeToUpdateError struct {
	Status string
	Hint   string
}

func (e *NotSafeToUpdateError) Error() string {
	msg := fmt.Sprintf("can't update stack while in state '%s'", e.Status)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// NotFoundError means a referenced stack, resource or group does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: '%s'", e.Kind, e.ID)
}

// NoRunningInstancesError means none of the requested instances is running.
type NoRunningInstancesError struct {
	Tried []string
}

func (e *NoRunningInstancesError) Error() string {
	return fmt.Sprintf("no running instances to deploy to, tried [%s]", strings.Join(e.Tried, ", "))
}

// RemoteCommandError is a non-zero exit during a fail-fast command sequence.
type RemoteCommandError struct {
	InstanceID string
	Address    string
	Command    string
	ExitStatus int
	Stdout     string
	Stderr     string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("command '%s' failed on %s with exit %d\nstdout: %s\nstderr: %s",
		e.Command, e.InstanceID, e.ExitStatus, e.Stdout, e.Stderr)
}
