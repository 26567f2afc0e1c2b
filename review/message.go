package review

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/decision"
	"gatekeeper/delivery"
	"gatekeeper/model"
	"gatekeeper/utils/database"
)

// Message renders the staff-facing confirmation of a decision.
func (r Response) Message() string {
	app := r.Decision.Application
	code := app.ShortCode()

	switch r.Decision.Outcome {
	case decision.Changed:
		parts := []string{fmt.Sprintf("Application %s %s.", code, r.Kind.Verb())}
		if r.Delivery != nil {
			parts = append(parts, deliverySummary(r.Kind, *r.Delivery)...)
		}
		return strings.Join(parts, " ")

	case decision.AlreadyInState:
		return fmt.Sprintf("Application %s is already %s%s.", code, statusLabel(app), settledBy(r.Decision.LastAction))

	case decision.TerminalConflict:
		return fmt.Sprintf("Application %s was already %s%s and can no longer be changed.", code, statusLabel(app), settledBy(r.Decision.LastAction))

	case decision.InvalidState:
		if app.Status == model.StatusDraft {
			return fmt.Sprintf("Application %s has not been submitted yet.", code)
		}
		return fmt.Sprintf("Application %s is in state %q and cannot be reviewed.", code, app.Status)
	}
	return fmt.Sprintf("Application %s: %s.", code, r.Decision.Outcome)
}

func deliverySummary(kind decision.Kind, d delivery.Result) []string {
	var parts []string
	if d.Member == nil {
		parts = append(parts, "Member is no longer in the server.")
	}
	if kind == decision.KindApprove {
		switch {
		case d.RoleApplied:
			parts = append(parts, "Role applied.")
		case d.RoleErrorExpected:
			parts = append(parts, "Role not applied: the bot is missing permissions.")
		case d.RoleError != nil:
			parts = append(parts, "Role not applied.")
		}
	}
	if d.DMSent {
		parts = append(parts, "DM sent.")
	} else {
		parts = append(parts, "DM could not be delivered.")
	}
	if kind == decision.KindKick {
		switch {
		case d.KickApplied:
			parts = append(parts, "Member kicked.")
		case model.IsPermissionDenied(d.KickError):
			parts = append(parts, "Kick failed: the bot is missing permissions.")
		default:
			parts = append(parts, "Kick failed.")
		}
	}
	return parts
}

func statusLabel(app model.Application) string {
	switch app.Status {
	case model.StatusRejected:
		if app.PermanentlyRejected {
			return "permanently rejected"
		}
		return "rejected"
	case model.StatusNeedsInfo:
		return "waiting for more info"
	}
	return string(app.Status)
}

func settledBy(a *model.ReviewAction) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf(" (by <@%s> on %s)", a.ModeratorID, time.Unix(a.CreatedAt, 0).UTC().Format(time.DateOnly))
}

// FailureMessage renders a Decide error for staff. Validation errors are shown
// verbatim; storage errors only expose the correlation id.
func FailureMessage(err error) string {
	var storageErr *database.StorageError
	switch {
	case errors.Is(err, decision.ErrInvalidDecision):
		return err.Error()
	case errors.Is(err, decision.ErrApplicationNotFound):
		return "Application not found."
	case errors.As(err, &storageErr):
		return fmt.Sprintf("The decision could not be saved. Nothing was changed. Reference: %s", storageErr.CorrelationID)
	}
	return "Something went wrong while processing the decision."
}
