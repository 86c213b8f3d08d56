package apperror

// AppError is an error that carries the HTTP status it should be reported with.
// Modules declare their errors as package-level sentinels created with New.
type AppError struct {
	Code    int
	Message string

	parent *AppError
}

// New creates a new AppError sentinel.
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func (e *AppError) Error() string {
	return e.Message
}

// WithDetail returns a copy of the error with extra detail appended to the message.
// The copy still matches the original sentinel with errors.Is.
func (e *AppError) WithDetail(detail string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message + ": " + detail,
		parent:  e,
	}
}

// Unwrap exposes the sentinel a detailed error was derived from.
func (e *AppError) Unwrap() error {
	if e.parent == nil {
		return nil
	}
	return e.parent
}
