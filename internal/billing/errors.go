package billing

import "errors"

// Validation and repository errors.
var (
	ErrNotFound        = errors.New("subscription not found")
	ErrAlreadyExists   = errors.New("subscription already exists")
	ErrInvalidPrice    = errors.New("price must be greater than zero")
	ErrInvalidInterval = errors.New("interval must be a positive number of months")
	ErrInvalidDate     = errors.New("invalid date, expected DD-MM-YYYY")
)
