package sentinel

import "errors"

// ErrNotFound is the storage-level miss. Stores return it (optionally
// wrapped) so services can translate it into a coded domain error without
// knowing the backend.
var ErrNotFound = errors.New("not found")
