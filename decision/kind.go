package decision

import (
	"errors"
	"fmt"

	"gatekeeper/model"
)

// Kind is a staff decision. The string value doubles as the review_action action.
type Kind string

const (
	KindApprove    Kind = "approve"
	KindReject     Kind = "reject"
	KindPermReject Kind = "perm_reject"
	KindNeedInfo   Kind = "need_info"
	KindKick       Kind = "kick"
)

// ErrInvalidDecision is returned for malformed decision requests.
var ErrInvalidDecision = errors.New("invalid decision")

// ErrApplicationNotFound is returned when the application id does not exist.
var ErrApplicationNotFound = errors.New("application not found")

var targets = map[Kind]model.ApplicationStatus{
	KindApprove:    model.StatusApproved,
	KindReject:     model.StatusRejected,
	KindPermReject: model.StatusRejected,
	KindNeedInfo:   model.StatusNeedsInfo,
	KindKick:       model.StatusKicked,
}

// ParseKind validates s against the known decision kinds.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := targets[k]; !ok {
		return "", fmt.Errorf("%w: unknown decision kind %q", ErrInvalidDecision, s)
	}
	return k, nil
}

// Target is the status an application ends up in after the decision.
func (k Kind) Target() model.ApplicationStatus {
	return targets[k]
}

// Verb is the past-tense label used in staff and user messages.
func (k Kind) Verb() string {
	switch k {
	case KindApprove:
		return "approved"
	case KindReject:
		return "rejected"
	case KindPermReject:
		return "permanently rejected"
	case KindNeedInfo:
		return "marked as needing more info"
	case KindKick:
		return "kicked"
	}
	return string(k)
}

// Outcome discriminates the result of Decide.
type Outcome string

const (
	Changed          Outcome = "changed"
	AlreadyInState   Outcome = "already_in_state"
	TerminalConflict Outcome = "terminal_conflict"
	InvalidState     Outcome = "invalid_state"
)

// Evaluate applies the decision table to the current state of an application.
func Evaluate(current model.ApplicationStatus, permanentlyRejected bool, kind Kind) Outcome {
	target := kind.Target()
	switch {
	case current == model.StatusDraft:
		return InvalidState
	case current == target && (kind != KindPermReject || permanentlyRejected):
		return AlreadyInState
	case current.IsTerminal():
		return TerminalConflict
	case current.IsReviewable():
		return Changed
	}
	return InvalidState
}
