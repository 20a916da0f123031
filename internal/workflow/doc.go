// Package workflow models the dependency graph between contract artifacts and
// turns it into an ordered list of layers. Artifacts in the same layer have no
// dependency on each other and can be processed concurrently; a layer may only
// start once every earlier layer has resolved.
package workflow
