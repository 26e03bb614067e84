// Package telephony connects call legs to the phone network.
// A MediaLeg adapts one Twilio Media Streams WebSocket to call.Leg, and
// TwilioDialer places the outbound operator call through the Twilio REST
// API with TwiML that streams the answered call back to this service.
package telephony
