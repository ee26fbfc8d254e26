// Package device provides the Gree device model, persistence, and the
// in-memory registry the bridge works against.
//
// A Device is one air conditioner on the LAN, identified by its MAC
// address. The SQLite repository persists identity and bind material
// (IP, session key, cipher variant) so a restart can skip re-discovery
// and re-binding. The registry wraps the repository with a cache and
// holds the runtime-only parameter snapshot that never touches disk.
//
// Bind lifecycle:
//
//	unbound -> binding -> bound
//
// A failed bind reverts to unbound. Only the communicator mutates bind
// state; everything else reads snapshots.
//
// Security Considerations:
//   - Session keys are stored in SQLite and must never be logged.
//   - The database file should have restricted permissions.
package device
