package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"gatekeeper/model"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restError(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "test"},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorCode
	}{
		{"missing permissions", restError(403, discordgo.ErrCodeMissingPermissions), model.CodePermissionDenied},
		{"missing access", restError(403, discordgo.ErrCodeMissingAccess), model.CodePermissionDenied},
		{"closed dms", restError(403, discordgo.ErrCodeCannotSendMessagesToThisUser), model.CodeCannotMessage},
		{"unknown member", restError(404, discordgo.ErrCodeUnknownMember), model.CodeNotFound},
		{"plain 403", restError(403, 0), model.CodePermissionDenied},
		{"plain 404", restError(404, 0), model.CodeNotFound},
		{"server error", restError(500, 0), model.CodeUnknown},
		{"wrapped", fmt.Errorf("grant: %w", restError(403, discordgo.ErrCodeMissingPermissions)), model.CodePermissionDenied},
		{"not a rest error", errors.New("connection reset"), model.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			var pe *model.PlatformError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want, pe.Code)
			assert.Equal(t, tt.want, model.CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify("op", nil))
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "modmail-123", threadName("", "123"))
	assert.Equal(t, "modmail-wolfie", threadName("Wolfie", "123"))

	long := threadName(strings.Repeat("狼", 120), "123")
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, 100, utf8.RuneCountInString(long))
}
