package arena

import "github.com/srediag/memarena/internal/shm"

// Access is the permission set of a view or map, shared by every backend.
type Access = shm.Access

const (
	AccessNone      = shm.AccessNone
	AccessRead      = shm.AccessRead
	AccessWrite     = shm.AccessWrite
	AccessExec      = shm.AccessExec
	AccessReadWrite = shm.AccessReadWrite
)
