package intake

// ProcessingStatus is the appointment's pipeline state. It is the only shared
// coordination value between concurrent invocations.
type ProcessingStatus string

const (
	StatusPending          ProcessingStatus = "pending"
	StatusTriggered        ProcessingStatus = "triggered"
	StatusProcessing       ProcessingStatus = "processing"
	StatusProcessingFailed ProcessingStatus = "processing_failed"
	StatusReadyForSummary  ProcessingStatus = "ready_for_summary"
	StatusCompleted        ProcessingStatus = "completed"
	StatusFailed           ProcessingStatus = "failed"
)

var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:          {StatusTriggered, StatusProcessing, StatusReadyForSummary},
	StatusTriggered:        {StatusProcessing, StatusPending, StatusReadyForSummary},
	StatusProcessing:       {StatusCompleted, StatusProcessingFailed, StatusReadyForSummary, StatusFailed},
	StatusProcessingFailed: {StatusTriggered, StatusProcessing, StatusPending, StatusReadyForSummary},
	StatusReadyForSummary:  {StatusProcessing, StatusCompleted, StatusFailed, StatusPending, StatusTriggered},
	StatusCompleted:        {StatusPending, StatusTriggered, StatusReadyForSummary},
	StatusFailed:           {StatusPending, StatusTriggered, StatusReadyForSummary},
}

// Valid reports whether s is a known status.
func (s ProcessingStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the pipeline may move an appointment from one status to another.
// Completed and failed appointments only move again through a manual re-trigger.
func CanTransition(from, to ProcessingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources returns every status from which to is reachable, preserving declaration order.
func Sources(to ProcessingStatus) []ProcessingStatus {
	order := []ProcessingStatus{
		StatusPending, StatusTriggered, StatusProcessing, StatusProcessingFailed,
		StatusReadyForSummary, StatusCompleted, StatusFailed,
	}
	var out []ProcessingStatus
	for _, from := range order {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// ResetSources returns every status a manual re-trigger may move to `to` from. An
// appointment already at `to` counts as reset; one being processed never does.
func ResetSources(to ProcessingStatus) []ProcessingStatus {
	return append([]ProcessingStatus{to}, Without(Sources(to), StatusProcessing, to)...)
}

// ReleaseTarget returns the status a lock holder writes when it gives up the
// appointment. A status the graph does not allow after processing is replaced by
// processing_failed, which a later event can always re-enter from.
func ReleaseTarget(to ProcessingStatus) (ProcessingStatus, bool) {
	if CanTransition(StatusProcessing, to) {
		return to, true
	}
	return StatusProcessingFailed, false
}

// Without returns statuses minus every listed exclusion, preserving order.
func Without(statuses []ProcessingStatus, exclude ...ProcessingStatus) []ProcessingStatus {
	out := make([]ProcessingStatus, 0, len(statuses))
	for _, s := range statuses {
		keep := true
		for _, x := range exclude {
			if s == x {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}

// StatusStrings converts statuses to plain strings for query arguments.
func StatusStrings(statuses []ProcessingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
