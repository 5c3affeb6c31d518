package domain

import "errors"

var (
	ErrDuplicateName   = errors.New("endpoint name already exists")
	ErrNotFound        = errors.New("not found")
	ErrInvalidEndpoint = errors.New("invalid endpoint")
)
