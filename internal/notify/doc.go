// Package notify delivers accessory command outcomes to people through a
// Discord-compatible chat webhook.
//
// A *Webhook satisfies accessory.Notifier. Delivery never blocks the caller
// and a failed delivery is logged, not retried.
package notify
