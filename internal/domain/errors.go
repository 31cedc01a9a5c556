package domain

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrNoQuote    = errors.New("no quote available")
	ErrNoContract = errors.New("no matching contract")
	ErrLockHeld   = errors.New("lock already held")
)
