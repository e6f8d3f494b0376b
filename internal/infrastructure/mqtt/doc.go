// Package mqtt provides the device's MQTT session: a thin wrapper over
// paho.mqtt.golang with automatic reconnection and subscription
// restoration, plus the transport adapter the retention queue publishes
// through.
//
// The topic scheme places everything for a device under
// <realm>/<device id>; see Topics. Reliability maps onto MQTT QoS, see
// QoSForReliability.
package mqtt
