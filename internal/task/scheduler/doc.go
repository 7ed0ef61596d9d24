// Package scheduler is the entry point for submitting prioritized tasks.
//
// A Service owns a pending store, a delay timer per submission, and a fixed
// worker pool (internal/task/engine). Schedule arms a delay; when it elapses
// the task moves into the store, where the most urgent task is handed to the
// next free worker. Stop halts the pool and returns the ids of every task that
// never ran, including submissions whose delay had not yet elapsed.
//
// Recurring submissions (cron or interval) are layered on top of Schedule.
package scheduler
