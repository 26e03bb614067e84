// Package bridge moves audio between the two telephony legs of a call and the
// translation stream, and turns recognized text into transcript events.
package bridge
