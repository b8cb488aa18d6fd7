package bot

import "errors"

// ErrPrecondition reports an event that arrived in the wrong conversation
// state (or before authorization). It is always user-correctable by
// following the flow.
var ErrPrecondition = errors.New("operation not allowed in the current state")
