package policy

// State is the lifecycle of a flag map as seen by the UI.
type State string

const (
	// StateLoading means the user or session is not resolved yet.
	StateLoading State = "loading"
	// StateError means the session failed; nothing may be shown.
	StateError State = "error"
	// StateReady means Flags is the computed map.
	StateReady State = "ready"
)

// Snapshot is what a flag consumer reads. Outside StateReady every flag is
// denied, whatever Flags holds.
type Snapshot struct {
	State State           `json:"state"`
	Flags map[string]bool `json:"flags"`
}

// Loading returns a snapshot for an unresolved session.
func Loading() Snapshot {
	return Snapshot{State: StateLoading, Flags: map[string]bool{}}
}

// Failed returns a snapshot for a failed session.
func Failed() Snapshot {
	return Snapshot{State: StateError, Flags: map[string]bool{}}
}

// Ready wraps a computed flag map.
func Ready(flags map[string]bool) Snapshot {
	if flags == nil {
		flags = map[string]bool{}
	}
	return Snapshot{State: StateReady, Flags: flags}
}

// Allowed reports whether the named feature may be shown. Unknown names and
// non-ready snapshots are denied.
func (s Snapshot) Allowed(name string) bool {
	return s.State == StateReady && s.Flags[name]
}
