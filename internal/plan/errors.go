package plan

import "errors"

var (
	ErrInvalid   = errors.New("invalid plan")
	ErrDuplicate = errors.New("duplicate entry")
	ErrNotFound  = errors.New("entry not found")
)
