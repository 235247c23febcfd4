package diagnostic

import "errors"

var (
	ErrNoFiles            = errors.New("at least one file is required")
	ErrTooManyFiles       = errors.New("too many files in a single submission")
	ErrFileTooLarge       = errors.New("file exceeds the maximum allowed size")
	ErrFileTypeNotAllowed = errors.New("file type not allowed: only PDF, JPEG, JPG and PNG are accepted")
)
