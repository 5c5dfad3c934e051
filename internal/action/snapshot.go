package action

// GateStatus is the balance gate result for one action, as carried in
// snapshots so presentation surfaces need not query the oracle themselves.
type GateStatus struct {
	ActionID     string `json:"actionId"`
	Ready        bool   `json:"ready"`
	Insufficient bool   `json:"insufficient"`
	Verified     bool   `json:"verified"`
	Reason       string `json:"reason,omitempty"`
	Balance      string `json:"balance,omitempty"`
}

// Snapshot is the full active queue at one version. Snapshots are values:
// holders may modify them freely.
type Snapshot struct {
	Version uint64         `json:"version"`
	Queue   []WalletAction `json:"queue"`
	Gate    *GateStatus    `json:"gate,omitempty"`
}

// Head returns the first action in the snapshot.
func (s Snapshot) Head() (WalletAction, bool) {
	if len(s.Queue) == 0 {
		return WalletAction{}, false
	}
	return s.Queue[0], true
}

// InDecision returns the action awaiting the operator or processing, if any.
func (s Snapshot) InDecision() (WalletAction, bool) {
	for _, a := range s.Queue {
		if a.Status.InDecision() {
			return a, true
		}
	}
	return WalletAction{}, false
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	cp := Snapshot{Version: s.Version}
	if s.Queue != nil {
		cp.Queue = make([]WalletAction, len(s.Queue))
		for i, a := range s.Queue {
			cp.Queue[i] = a.Clone()
		}
	}
	if s.Gate != nil {
		g := *s.Gate
		cp.Gate = &g
	}
	return cp
}
