package wsync

// FilesystemManager is the slice of filesystem access the engine and the
// clean helper need. Removing a missing path is not an error.
type FilesystemManager interface {
	Exists(path string) (bool, error)
	Remove(path string) error
	RemoveDir(path string) error
}
