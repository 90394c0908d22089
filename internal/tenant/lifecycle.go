// internal/tenant/lifecycle.go
//
// Tenant lifecycle state machine.
//
// Context
// -------
// A tenant carries two correlated enums: the operational `Status` (may the
// tenant serve traffic?) and the commercial `SubscriptionStatus` (is the
// subscription paid up?).  They are stored as two columns but validated as
// one `State`, so contradictory pairs such as an active tenant with a
// cancelled subscription are never constructible through this package.
//
// The machine exposes exactly one mutation entry point, `Transition`.  It
// checks each changed axis against its edge table, then checks the combined
// pair against the combination table.  Any miss returns *TransitionError.
//
// Notes
// -----
// • Edge tables are package data, not behaviour; tests enumerate them.
// • `cancelled` and `expired` are terminal on the operational axis.
// • Oxford commas, two spaces after periods.
package tenant

// Status is the operational lifecycle axis.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known operational status.
func (s Status) Valid() bool {
	_, ok := statusEdges[s]
	return ok
}

// Terminal reports whether no edge leaves s.
func (s Status) Terminal() bool {
	return len(statusEdges[s]) == 0
}

// SubscriptionStatus is the commercial lifecycle axis.
type SubscriptionStatus string

const (
	SubTrial     SubscriptionStatus = "TRIAL"
	SubActive    SubscriptionStatus = "ACTIVE"
	SubPastDue   SubscriptionStatus = "PAST_DUE"
	SubSuspended SubscriptionStatus = "SUSPENDED"
	SubCanceled  SubscriptionStatus = "CANCELED"
)

// Valid reports whether s is a known subscription status.
func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionEdges[s]
	return ok
}

// State is the validated pair of the two axes.
type State struct {
	Status       Status
	Subscription SubscriptionStatus
}

//
// Edge and combination tables
//

// statusEdges lists the legal operational transitions.
var statusEdges = map[Status][]Status{
	StatusTrial:     {StatusActive},
	StatusActive:    {StatusSuspended, StatusCancelled},
	StatusSuspended: {StatusActive, StatusCancelled, StatusExpired},
	StatusCancelled: {},
	StatusExpired:   {},
}

// subscriptionEdges lists the legal commercial transitions.  SUSPENDED may
// recover to ACTIVE so that a suspended tenant can be reinstated, and may
// close out to CANCELED.
var subscriptionEdges = map[SubscriptionStatus][]SubscriptionStatus{
	SubTrial:     {SubActive},
	SubActive:    {SubPastDue, SubSuspended, SubCanceled},
	SubPastDue:   {SubActive, SubSuspended, SubCanceled},
	SubSuspended: {SubActive, SubCanceled},
	SubCanceled:  {},
}

// allowedCombos is the closed set of valid (Status, SubscriptionStatus)
// pairs.  Every transition and every create lands on one of these.
var allowedCombos = map[Status][]SubscriptionStatus{
	StatusTrial:     {SubTrial},
	StatusActive:    {SubActive, SubPastDue},
	StatusSuspended: {SubPastDue, SubSuspended},
	StatusCancelled: {SubCanceled},
	StatusExpired:   {SubSuspended, SubCanceled},
}

// ValidState reports whether the pair is in the combination table.
func ValidState(s State) bool {
	for _, sub := range allowedCombos[s.Status] {
		if sub == s.Subscription {
			return true
		}
	}
	return false
}

//
// Transition
//

// Transition computes the state reached from `cur` when the non-nil axes
// are applied.  A nil axis keeps its current value.  The zero-change call
// (both nil, or both equal to current) is a no-op and returns cur.
func Transition(cur State, newStatus *Status, newSub *SubscriptionStatus) (State, error) {
	next := cur
	if newStatus != nil {
		next.Status = *newStatus
	}
	if newSub != nil {
		next.Subscription = *newSub
	}
	if next == cur {
		return cur, nil
	}

	if next.Status != cur.Status && !edgeAllowed(statusEdges[cur.Status], next.Status) {
		return cur, &TransitionError{From: cur, To: next}
	}
	if next.Subscription != cur.Subscription &&
		!subEdgeAllowed(subscriptionEdges[cur.Subscription], next.Subscription) {
		return cur, &TransitionError{From: cur, To: next}
	}
	if !ValidState(next) {
		return cur, &TransitionError{From: cur, To: next}
	}
	return next, nil
}

func edgeAllowed(edges []Status, to Status) bool {
	for _, e := range edges {
		if e == to {
			return true
		}
	}
	return false
}

func subEdgeAllowed(edges []SubscriptionStatus, to SubscriptionStatus) bool {
	for _, e := range edges {
		if e == to {
			return true
		}
	}
	return false
}
