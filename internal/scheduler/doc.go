// Package scheduler arms notification triggers.
//
// A one-shot trigger is a time.AfterFunc timer for an absolute instant; a
// daily trigger is a robfig/cron entry ("m h * * *") evaluated in the
// configured timezone. On fire the trigger's payload is handed to the
// Dispatcher exactly as an immediate send would be.
//
// Triggers live in memory only. Stop drops whatever is still pending.
package scheduler
