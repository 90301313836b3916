// Package notifier delivers player-facing notices asynchronously.
//
// Each channel (Discord, Telegram) gets its own bounded queue, worker,
// token-bucket limiter and retry loop, so a slow or failing channel never
// delays another one and messages stay in order per channel.
//
// Notify never reports delivery failures to the caller. They are logged,
// published on the event bus and kept in a short in-memory history.
package notifier
