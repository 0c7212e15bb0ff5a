package campaign

// check names a precondition a transition must pass before it commits.
// Keeping the legal edges and their checks in one table makes every
// (state, target) pair enumerable in tests instead of scattering the
// rules across handlers.
type check int

const (
	// checkPrerequisites requires an assigned agent and a non-empty
	// contact group before the campaign may dial.
	checkPrerequisites check = iota
	// checkCreditAdmission consults the credit ledger before resuming.
	checkCreditAdmission
	// checkWindowConfigured requires at least one active day so the
	// execution loop can always compute a next open instant.
	checkWindowConfigured
)

var transitions = map[Status]map[Status][]check{
	StatusDraft: {
		StatusScheduled: nil,
		StatusActive:    {checkPrerequisites, checkWindowConfigured},
	},
	StatusScheduled: {
		StatusActive: {checkPrerequisites, checkWindowConfigured},
	},
	StatusActive: {
		StatusPaused:    nil,
		StatusCompleted: nil,
	},
	StatusPaused: {
		StatusActive: {checkPrerequisites, checkWindowConfigured, checkCreditAdmission},
	},
}

// legalEdge reports whether from -> to is an allowed transition and, if
// so, which checks guard it.
func legalEdge(from, to Status) ([]check, bool) {
	targets, ok := transitions[from]
	if !ok {
		return nil, false
	}
	checks, ok := targets[to]
	return checks, ok
}
