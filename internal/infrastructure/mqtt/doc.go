// Package mqtt provides the per-accessory MQTT session used by the bridge.
//
// Every MQTT-capable accessory owns exactly one Client. The client ID is the
// accessory's device name and the session is clean, so subscriptions do not
// survive a reconnect; the owner re-subscribes from its OnConnect callback.
//
// # Lifecycle
//
// New builds the session without touching the network. Start begins the
// first connection attempt and returns immediately; paho then retries and
// reconnects on a fixed period for the lifetime of the process. Every
// lifecycle event (connect, offline, reconnecting, close, error) is logged
// and none of them is fatal. Close is the only way to end a session.
//
// # Availability
//
// When an availability topic is configured the broker holds a retained
// "offline" will for the session and the client publishes a retained
// "online" on every connect.
//
// # Usage
//
//	client, err := mqtt.New(accessoryCfg.MQTTSession(cfg.MQTT))
//	if err != nil {
//	    return err
//	}
//	client.SetLogger(logger)
//	client.SetOnConnect(func() {
//	    _ = client.Subscribe("lamp/power", 1, handle)
//	})
//	client.Start()
//	defer client.Close()
package mqtt
