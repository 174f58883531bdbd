// Package streak implements the consecutive-day message streak for a
// connection. A streak counts distinct calendar days on which at least one
// message was exchanged, without gaps.
package streak

import "time"

// Advance returns the new streak value for a message arriving at now, given
// the connection's current streak and the time of the previous interaction.
//
// Calendar days are truncated in UTC. The original deployment truncated in
// the server's local zone, which shifts day boundaries between deployments
// and across DST transitions; UTC is the fixed reference here.
//
//	same day:       streak stays (bumped to 1 if it was 0)
//	next day:       streak + 1
//	gap of 2+ days: reset to 1
//	no prior interaction: reset to 1
func Advance(current int, lastInteraction *time.Time, now time.Time) int {
	if lastInteraction == nil {
		return 1
	}

	switch DaysBetween(*lastInteraction, now) {
	case 0:
		if current == 0 {
			return 1
		}
		return current
	case 1:
		return current + 1
	default:
		return 1
	}
}

// DaysBetween returns the number of UTC calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	da := truncateDay(a)
	db := truncateDay(b)
	return int(db.Sub(da).Hours() / 24)
}

// truncateDay drops the time-of-day component in UTC.
func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
