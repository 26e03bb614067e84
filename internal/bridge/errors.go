package bridge

import (
	"fmt"

	"github.com/skypro1111/call-translator/internal/call"
)

// Source identifies the side of the bridge a stream belongs to
type Source string

const (
	SourceTelephony   Source = "telephony"
	SourceTranslation Source = "translation"
)

// Direction identifies a queue of the bridge
type Direction string

const (
	DirectionUplink   Direction = "uplink"
	DirectionDownlink Direction = "downlink"
)

// StreamClosedError reports that a leg or the translation stream ended
// while the call was bridged. Role is set for telephony legs only.
type StreamClosedError struct {
	Source Source
	Role   call.Role
	Err    error
}

func (e *StreamClosedError) Error() string {
	name := string(e.Source)
	if e.Source == SourceTelephony {
		name = fmt.Sprintf("%s %s leg", e.Source, e.Role)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s closed: %v", name, e.Err)
	}
	return name + " closed"
}

func (e *StreamClosedError) Unwrap() error {
	return e.Err
}

// BackpressureError reports a queue that kept dropping frames past the threshold
type BackpressureError struct {
	Direction Direction
	Role      call.Role // destination leg for downlink, speaker for uplink
	Drops     int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("%s backpressure on %s: %d consecutive frames dropped", e.Direction, e.Role, e.Drops)
}
