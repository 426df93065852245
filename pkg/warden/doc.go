// Package warden implements the Action Warden: a middleware pipeline
// executor with two-phase (forward/recover) semantics, trigger injection
// around each stage, nested-pipeline awareness, and interrupt-safe
// teardown.
//
// A Warden is built from an ordered list of Descriptors and an Env shared
// across every stage. Each Descriptor finalizes into either a trio of
// stages (a BeforeTrigger, the constructed middleware, and an AfterTrigger)
// or a single adapter stage wrapping a bare callable. Call runs the
// finalized pipeline to completion or failure; on failure every stage
// entered so far is recovered in LIFO order before the error is returned.
//
// A Warden itself satisfies Stage, so one Warden's pipeline may embed
// another as a single entry — the inner Warden recovers and clears its own
// stack before the failure propagates to the outer one.
package warden
