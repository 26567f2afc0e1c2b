package utils

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// Permission levels
const (
	StaffPermission = "staff"
	GuestPermission = "guest"
)

// CheckPermission returns the permission level of a member. Members with a
// configured staff role, or with Manage Server, are staff.
func CheckPermission(memberRoleIDs []string, memberPermissions int64, staffRoleIDs []string) string {
	if memberPermissions&(discordgo.PermissionAdministrator|discordgo.PermissionManageGuild) != 0 {
		return StaffPermission
	}
	for _, roleID := range memberRoleIDs {
		if slices.Contains(staffRoleIDs, roleID) {
			return StaffPermission
		}
	}
	return GuestPermission
}
