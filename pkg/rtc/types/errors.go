package types

import (
	"errors"
	"fmt"
)

const (
	CodeSignalingConnectionError        = 53000
	CodeSignalingConnectionDisconnected = 53001
	CodeSignalingConnectionTimeout      = 53002
	CodeSignalingIncomingMessageInvalid = 53003
	CodeSignalingOutgoingMessageInvalid = 53004
	CodeSignalingServerBusy             = 53006
	CodeRoomCompleted                   = 53118
	CodeMediaClientLocalDescFailed      = 53400
	CodeMediaClientRemoteDescFailed     = 53402
	CodeConfigurationAcquireFailed      = 53500
	CodeConfigurationAcquireTurnFailed  = 53501
	codeUnknown                         = 0
)

// SignalingError carries a stable numeric code. Two SignalingErrors match
// with errors.Is when their codes are equal.
type SignalingError struct {
	Code    int
	Message string
	cause   error
}

func (e *SignalingError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (e *SignalingError) Unwrap() error {
	return e.cause
}

func (e *SignalingError) Is(target error) bool {
	t, ok := target.(*SignalingError)
	return ok && t.Code == e.Code
}

func (e *SignalingError) WithCause(cause error) *SignalingError {
	return &SignalingError{Code: e.Code, Message: e.Message, cause: cause}
}

var (
	ErrSignalingConnection             = &SignalingError{CodeSignalingConnectionError, "Raised whenever a signaling connection error occurs", nil}
	ErrSignalingConnectionDisconnected = &SignalingError{CodeSignalingConnectionDisconnected, "Raised whenever the signaling connection disconnects", nil}
	ErrSignalingConnectionTimeout      = &SignalingError{CodeSignalingConnectionTimeout, "Raised when connection liveliness checks fail, or when the signaling session expires", nil}
	ErrIncomingMessageInvalid          = &SignalingError{CodeSignalingIncomingMessageInvalid, "Raised whenever the client receives a message from the server that the client cannot handle", nil}
	ErrOutgoingMessageInvalid          = &SignalingError{CodeSignalingOutgoingMessageInvalid, "Raised whenever the client sends a message to the server that the server cannot handle", nil}
	ErrSignalingServerBusy             = &SignalingError{CodeSignalingServerBusy, "Video server is busy", nil}
	ErrRoomCompleted                   = &SignalingError{CodeRoomCompleted, "Room completed", nil}
	ErrLocalDescriptionFailed          = &SignalingError{CodeMediaClientLocalDescFailed, "Client is unable to create or apply a local media description", nil}
	ErrRemoteDescriptionFailed         = &SignalingError{CodeMediaClientRemoteDescFailed, "Client is unable to apply a remote media description", nil}
	ErrConfigurationAcquireFailed      = &SignalingError{CodeConfigurationAcquireFailed, "Unable to acquire configuration", nil}
	ErrConfigurationAcquireTurnFailed  = &SignalingError{CodeConfigurationAcquireTurnFailed, "Unable to acquire TURN credentials", nil}
)

var knownErrors = map[int]*SignalingError{}

func init() {
	for _, e := range []*SignalingError{
		ErrSignalingConnection,
		ErrSignalingConnectionDisconnected,
		ErrSignalingConnectionTimeout,
		ErrIncomingMessageInvalid,
		ErrOutgoingMessageInvalid,
		ErrSignalingServerBusy,
		ErrRoomCompleted,
		ErrLocalDescriptionFailed,
		ErrRemoteDescriptionFailed,
		ErrConfigurationAcquireFailed,
		ErrConfigurationAcquireTurnFailed,
	} {
		knownErrors[e.Code] = e
	}
}

// CreateSignalingError maps a code received from the server to a typed error.
// Unknown codes keep the server's code and message.
func CreateSignalingError(code int, message string) *SignalingError {
	if known, ok := knownErrors[code]; ok {
		if message == "" {
			message = known.Message
		}
		return &SignalingError{Code: code, Message: message}
	}
	if message == "" {
		message = "unknown error"
	}
	return &SignalingError{Code: code, Message: message}
}

// CodeOf returns the code of a SignalingError in the chain, or 0.
func CodeOf(err error) int {
	var se *SignalingError
	if errors.As(err, &se) {
		return se.Code
	}
	return codeUnknown
}
