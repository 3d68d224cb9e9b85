// Package lightstate persists the desired state of every light in SQLite.
//
// The repository serves two roles for the bridge:
//   - as a govee.StatusSink it stores every confirmed state change and
//     appends it to the state history
//   - as a govee.StateLoader it seeds a newly created session with the
//     last stored state, so a restart does not reset lights to defaults
//
// Schema is owned by the top-level migrations package.
package lightstate
