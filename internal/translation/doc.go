// Package translation implements the client for the streaming speech
// translation service.
// Each call opens one session-storage session and one WebSocket per role;
// the per-role connections are merged into a single Stream that accepts
// PCM input frames and yields translated audio and transcription events.
// HTTP calls are retried with exponential backoff.
package translation
