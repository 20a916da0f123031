// Package statusbridge exposes the live status projection of a pipeline run
// over HTTP. GET /status returns the current snapshot, GET /status/{name} a
// single artifact, and /stream upgrades to a websocket that sends the
// snapshot followed by every change until the run ends.
package statusbridge
