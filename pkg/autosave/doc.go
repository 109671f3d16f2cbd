// Package autosave coordinates write-behind persistence of editor content.
//
// Three pieces cooperate:
//
//   - Debouncer collapses bursts of content changes into one trailing call.
//   - Coordinator executes saves for one bound document: a single save is in
//     flight at a time, newer requests replace the queued one (last write wins),
//     and failed attempts are retried with exponential backoff.
//   - Session binds both to the document the user is editing, suppresses saves
//     until the user actually edits, and resets everything on document switch.
//
// All timers go through Clock so tests drive time explicitly (see the
// autosavetest package). Status changes are observed through Status and
// Subscribe; Submit never reports errors synchronously.
package autosave
