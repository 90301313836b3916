// Package schedule parses the full backup cycle cadence.
//
// A cadence is either a fixed interval measured from the end of the previous
// cycle, or a cron expression (robfig/cron) evaluated in local time.
package schedule
