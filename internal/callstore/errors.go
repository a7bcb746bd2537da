package callstore

import "errors"

var errStoreUnavailable = errors.New("callstore: store unavailable")
