// Package audio handles telephony audio frames and format conversion.
// It implements G.711 µ-law 8 kHz <-> linear PCM 24 kHz conversion, saturating
// mixing of PCM streams, fixed-size framing of arbitrary chunks, per-leg
// sequence tracking and a lightweight voice activity meter.
package audio
