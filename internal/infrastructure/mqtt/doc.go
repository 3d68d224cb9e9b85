// Package mqtt provides the MQTT client used by the BLE bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - An optional Last Will and Testament for offline detection
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    topics.Health(),
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("goveeblemqtt/zone1/light/+/command", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
