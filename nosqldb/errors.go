package nosqldb

import "errors"

// ErrMissingAuthProvider is returned by New when no AuthProvider was
// configured via WithAuthProvider. A Config cannot authenticate requests
// without one.
var ErrMissingAuthProvider = errors.New("nosqldb: Config requires an AuthProvider, set via WithAuthProvider")
