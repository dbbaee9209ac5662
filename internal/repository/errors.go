package repository

import "errors"

// ErrNotFound indicates the requested challenge, token or account does not exist.
var ErrNotFound = errors.New("repository: not found")
