// Package pipeline runs the layered build-and-release protocol for a set of
// contract artifacts.
//
// An Orchestrator walks the dependency layers in order. Inside a layer every
// artifact builds concurrently; the successful builds are then released as one
// group: a deploy batch and a metadata publish batch run side by side, and a
// registry batch follows once both have landed and every published content id
// matches the locally computed one. Failures cascade to dependents in later
// layers but never to independent artifacts.
//
// The orchestrator goroutine is the only writer of pipeline status. Build and
// release goroutines report back over channels, and observers such as
// Projection receive value copies of each status change.
package pipeline
