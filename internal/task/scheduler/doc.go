// Package scheduler runs periodic housekeeping jobs (idle login sweep, audit pruning)
// on robfig/cron. Each schedule runs at most once at a time; overlapping triggers are skipped.
package scheduler
