package backup

import (
	"fmt"
	"strings"
	"time"
)

const dryRunSuffix = "(dry run, no backup will be taken)"

func mention(roleID string) string {
	if strings.TrimSpace(roleID) == "" {
		return ""
	}
	return fmt.Sprintf("<@&%s>\n", roleID)
}

func relative(t time.Time) string { return fmt.Sprintf("<t:%d:R>", t.Unix()) }

// AdvanceNotice pings the role when a cycle is scheduled.
func AdvanceNotice(roleID string, c Cycle) string {
	return mention(roleID) + occupancyText(c.ScheduledAt, c.PlayerCount, c.DryRun())
}

// HalfTimeNotice repeats the warning with a refreshed player count and no ping.
func HalfTimeNotice(c Cycle, playerCount int) string {
	return occupancyText(c.ScheduledAt, playerCount, c.DryRun())
}

func occupancyText(at time.Time, players int, dryRun bool) string {
	s := fmt.Sprintf("Server will be backed up %s, please log off.\nThere are currently %d player(s) online.", relative(at), players)
	if dryRun {
		s += "\n" + dryRunSuffix
	}
	return s
}

func SuccessNotice(roleID string, next time.Time) string {
	return mention(roleID) + fmt.Sprintf("Backup completed successfully. **Next backup:** %s.\n(Note: The backup timer may vary based on player count)", relative(next))
}

func FailureNotice(roleID string, next time.Time) string {
	return mention(roleID) + fmt.Sprintf("Backup failed. **Next backup:** %s.", relative(next))
}
