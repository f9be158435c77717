// Package server exposes the session engine over HTTP.
//
// The API is JSON over chi routes. Sessions are created pending with
// POST /session, driven with /start, /message, /cancel and, for
// workflows, /continue and /jump. Live events stream over SSE from
// /session/{sessionID}/event. Transcripts round-trip through /export,
// /import and the /history routes when a history store is configured.
package server
