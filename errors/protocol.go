package errors

// ProtocolError reports that the backend's byte stream violated the
// frontend/backend protocol contract: a malformed frame, an unknown
// message identifier, an unsupported authentication method, or a
// structurally invalid message. It is always fatal: the connection that
// raised it is closed.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "postgres protocol violation: " + e.Message
}

// NewProtocolError constructs a ProtocolError with the given message.
func NewProtocolError(message string) *ProtocolError {
	return &ProtocolError{Message: message}
}
