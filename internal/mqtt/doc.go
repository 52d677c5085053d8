// Package mqtt reports relay status to Home Assistant over MQTT.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery configs for each
// entity, a birth message ("online") to the availability topic, and
// subscribes to the model command topic. A will message flips
// availability to "offline" on unexpected disconnects.
//
// Sensor states are pushed on a fixed interval and immediately after
// the model state changes. Relay events from the in-process bus are
// forwarded as JSON to the events topic.
package mqtt
