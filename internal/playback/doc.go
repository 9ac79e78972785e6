// Package playback implements the narration audio engine: a single output
// track fed either directly or from a bounded queue of segments, behind a
// gesture-driven unlock gate, with bounded in-memory resources and a
// per-user persisted volume.
//
// The platform output and unlock capability are injected through the
// Output and Unlocker interfaces; see internal/audio for the production
// implementation and MockOutput for tests.
package playback
