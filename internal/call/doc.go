// Package call models a single bridged phone call.
// A Session pairs a client leg with an operator leg, records the languages
// each side speaks and enforces the Dialing -> Bridging -> Closing -> Closed
// lifecycle.
package call
