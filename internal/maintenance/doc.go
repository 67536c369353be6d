// Package maintenance runs periodic housekeeping on a cron schedule.
//
// The only job today prunes web push subscriptions whose expiration time has
// passed. Schedules accept robfig/cron expressions ("@hourly", "0 */6 * * *")
// or plain intervals ("30m", "02:00").
package maintenance
