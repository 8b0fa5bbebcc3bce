// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package jobs runs scheduled housekeeping with robfig/cron.

	@every 15m  purge client sessions expired or revoked over a day ago
	@every 1h   notify dietitians of appointments in the next 24 hours
	0 3 * * *   carry out approved GDPR deletions past their grace period
	@every 10m  sweep idle login rate limit and AI throttle state

Each run has its own timeout and is counted in the
nutriflow_jobs_runs_total metric. Overlapping runs of the same job are
skipped.
*/
package jobs
