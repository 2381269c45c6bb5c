package aggregate

// Versioned is implemented by entities guarded by optimistic concurrency
// control. The version counter is incremented on every committed write and
// is the sole serialization mechanism for shared counters.
type Versioned interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
}
