package patient

import "errors"

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPatientAlreadyExists = errors.New("patient with this email already exists")
	ErrInvalidStatus        = errors.New("invalid patient status")
	ErrInvalidDateOfBirth   = errors.New("date of birth is out of the allowed range")
)
