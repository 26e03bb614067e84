// Package server exposes the service over HTTP: the telephony webhooks,
// the provider media stream WebSockets that become call legs, the
// transcript observer WebSocket and the monitoring API.
package server
