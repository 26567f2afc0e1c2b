package modmail

import (
	"errors"
	"fmt"
)

var (
	// ErrTicketNotFound is returned for unknown ticket ids.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrNotHydrated is returned by routing before the open ticket index was loaded.
	ErrNotHydrated = errors.New("open ticket index not hydrated")
	// ErrNoOpenTicket is returned when a message has no open ticket to go to.
	ErrNoOpenTicket = errors.New("no open ticket")
	// ErrOpenInProgress is returned when a concurrent open did not finish
	// creating its channel within the wait timeout.
	ErrOpenInProgress = errors.New("ticket channel creation still in progress")
)

// RelayError reports a message that was recorded but could not be forwarded
// to the other side of the ticket.
type RelayError struct {
	TicketID int64
	To       string
	Err      error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("failed to relay message of ticket %d to %s: %v", e.TicketID, e.To, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}
