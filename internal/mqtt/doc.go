// Package mqtt publishes agent cycle events to an MQTT broker.
//
// Every completed cycle becomes a JSON event on <prefix>/<device>/cycles
// and updates a few retained state topics (last outcome, cycles and
// tokens today). When a discovery prefix is configured the states are
// announced as Home Assistant sensors, so the wizard shows up as a
// device with availability tracking.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher sends retained discovery configs and
// an "online" birth message; a will message flips availability to
// "offline" on unexpected disconnects.
package mqtt
