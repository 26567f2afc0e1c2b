package delivery

import (
	"fmt"
	"strings"

	"gatekeeper/decision"
)

const fallbackGuildName = "the server"

// renderDM builds the direct message a user receives after a decision.
func renderDM(kind decision.Kind, guildName, reason, note string) string {
	if guildName == "" {
		guildName = fallbackGuildName
	}

	var b strings.Builder
	switch kind {
	case decision.KindApprove:
		fmt.Fprintf(&b, "Welcome to %s! Your application has been approved.", guildName)
	case decision.KindReject:
		fmt.Fprintf(&b, "Your application to %s was not accepted.", guildName)
	case decision.KindPermReject:
		fmt.Fprintf(&b, "Your application to %s was rejected. You will not be able to apply again.", guildName)
	case decision.KindNeedInfo:
		fmt.Fprintf(&b, "Staff of %s need more information about your application. Please update it and resubmit.", guildName)
	case decision.KindKick:
		fmt.Fprintf(&b, "You have been removed from %s.", guildName)
	default:
		fmt.Fprintf(&b, "Your application to %s was %s.", guildName, kind.Verb())
	}

	if reason != "" && kind != decision.KindApprove {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	if note != "" {
		fmt.Fprintf(&b, "\nNote from staff: %s", note)
	}
	return b.String()
}
