package delivery

// ProcessingFailedError reports that server-side processing of a document
// failed. The message is the server's processingError text, surfaced
// verbatim. Terminal unless CanRetry is set, in which case an explicit
// user-triggered retry may reset processing to PENDING.
type ProcessingFailedError struct {
	Message  string
	CanRetry bool
}

func (e *ProcessingFailedError) Error() string {
	return e.Message
}
