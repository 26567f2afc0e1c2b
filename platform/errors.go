package platform

import (
	"errors"
	"net/http"

	"gatekeeper/model"

	"github.com/bwmarrin/discordgo"
)

// classify wraps a discordgo failure in a model.PlatformError carrying the
// code the core reasons about.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return &model.PlatformError{Op: op, Code: codeOf(err), Err: err}
}

func codeOf(err error) model.ErrorCode {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return model.CodeUnknown
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return model.CodePermissionDenied
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return model.CodeCannotMessage
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownChannel:
			return model.CodeNotFound
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return model.CodePermissionDenied
		case http.StatusNotFound:
			return model.CodeNotFound
		}
	}
	return model.CodeUnknown
}
