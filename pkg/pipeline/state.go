package pipeline

// State is a step of the per-request state machine:
//
//	Received → Sanitized → BackendSelected → Rendering → [Rasterizing] → Uploading → Completed
//
// Failed is reachable from every non-terminal state.
type State string

const (
	StateReceived        State = "received"
	StateSanitized       State = "sanitized"
	StateBackendSelected State = "backend_selected"
	StateRendering       State = "rendering"
	StateRasterizing     State = "rasterizing"
	StateUploading       State = "uploading"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// next lists the legal successors of each non-terminal state, Failed aside.
var next = map[State][]State{
	StateReceived:        {StateSanitized},
	StateSanitized:       {StateBackendSelected},
	StateBackendSelected: {StateRendering},
	StateRendering:       {StateRasterizing, StateUploading, StateCompleted},
	StateRasterizing:     {StateUploading, StateCompleted},
	StateUploading:       {StateCompleted},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
