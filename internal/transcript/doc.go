// Package transcript fans transcription events out to observers.
// Recent events are kept in a bounded replay buffer so late observers can
// catch up before receiving live events.
package transcript
