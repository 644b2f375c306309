package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrImportInProgress = errors.New("an import is already in progress for this dataset")
	ErrValidation       = errors.New("validation failed")
)
