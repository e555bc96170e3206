// Package common provides shared constants, types, and utilities
// used across the management client.
package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for management interface operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Connection errors.
	ErrAlreadyConnected = errors.New("connection already active")
	ErrNotConnected     = errors.New("not connected to the management interface")
	ErrConnectionFailed = errors.New("connection failed")
	ErrAuthFailed       = errors.New("management password rejected")
	ErrTimeout          = errors.New("operation timed out")

	// Protocol errors.
	ErrProtocol      = errors.New("protocol violation")
	ErrParse         = errors.New("parse error")
	ErrCommandFailed = errors.New("command failed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrConfigLoad    = errors.New("failed to load configuration")
	ErrConfigSave    = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

// ConnectError reports a socket-level failure while opening the
// management connection (timeout, refused, no route, bad handshake).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %v", e.Addr, ErrConnectionFailed)
	}
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes every ConnectError match ErrConnectionFailed.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// NewConnectError creates a ConnectError for addr.
func NewConnectError(addr string, err error) *ConnectError {
	return &ConnectError{Addr: addr, Err: err}
}

// ParseError reports a malformed protocol line or response payload.
type ParseError struct {
	Message string
	// Line is the offending input, when there is one.
	Line string
}

func (e *ParseError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s (line: %s)", e.Message, e.Line)
	}
	return e.Message
}

// Is makes every ParseError match ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// NewParseError formats a ParseError message.
func NewParseError(format string, args ...interface{}) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a violated protocol invariant, such as a
// missing connection banner.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

// Is makes every ProtocolError match ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// CommandError is returned when the daemon answers a command with an
// ERROR: line.
type CommandError struct {
	Command string
	Reply   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Reply)
}

// Is makes every CommandError match ErrCommandFailed.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
