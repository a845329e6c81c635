package sheets

import "errors"

// ErrRowNotFound indicates no row in the sheet carries the requested deal id.
var ErrRowNotFound = errors.New("deal row not found")
