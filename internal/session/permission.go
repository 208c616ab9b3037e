package session

// Permission tracks microphone permission state as reported by the
// recognition backend and, when available, an out-of-band platform query.
type Permission int

const (
	// PermissionUnknown - no signal received yet.
	PermissionUnknown Permission = iota
	// PermissionGranted - a session has started successfully, or the
	// platform reported the permission as granted.
	PermissionGranted
	// PermissionDenied - the platform rejected capture. Starts are refused
	// until the state changes.
	PermissionDenied
)

// String returns the string representation of the permission state.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// PermissionMonitor delivers out-of-band permission changes, for platforms
// exposing a permission query separate from the recognition capability.
// Implementations invoke fn once per observed change.
type PermissionMonitor interface {
	Subscribe(fn func(Permission))
}
