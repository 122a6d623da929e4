// Package campaign runs mention campaigns: one tagging session per chat,
// gated by a cooldown and an authorization check, dispatched in paced
// batches and reaped when it stops making progress.
package campaign
