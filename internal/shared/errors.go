package shared

import "errors"

// ErrUnavailable signals the backing store could not be reached at all,
// as opposed to a request that reached it and failed.
var ErrUnavailable = errors.New("storage unavailable")
