// Package mqtt provides the broker connection the forwarder ingests
// readings from.
//
// Producers publish reading payloads to a configured topic filter; the
// ingest package subscribes through this client. The client reconnects with
// exponential backoff, restores its subscriptions, and keeps a retained
// status message on influxnorth/status/<client-id> ("online" while
// connected, "offline" after shutdown or, via the last will, after a crash).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetLogger(logger)
//
//	err = client.Subscribe("readings/#", 1, func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
//
// Handlers run on paho goroutines. Errors they return are logged at warn;
// panics are recovered and logged at error.
package mqtt
