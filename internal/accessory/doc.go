// Package accessory synchronises device state between HTTP/MQTT devices and
// a home-automation host.
//
// Each configured device becomes a Controller. A controller owns a Store
// holding the bridge's belief about the device, and feeds it from up to
// three sources:
//
//   - a Poller that fetches a JSON status document on a fixed period
//   - a Subscriber that applies payloads from message bus topics
//   - a Dispatcher that applies host commands optimistically and rolls them
//     back if the device cannot be reached
//
// Every applied change is pushed to the Host immediately, in the order it
// was applied. Sources are not arbitrated: the last write to arrive wins.
//
// Last-known state is saved through a StateRepository and restored at start
// so the host sees a sensible value before the first poll completes.
package accessory
