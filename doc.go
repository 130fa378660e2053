// Package options resolves typed, namespace-scoped configuration values and
// feature-flag decisions from centrally authored schema and value artifacts.
//
// A namespace pairs a schema document (declared keys, types, defaults) with a
// values artifact produced out-of-band by the build tool. Reads resolve
// through scoped test overrides, then the current values snapshot, then the
// schema default. Value snapshots reload live when the backing artifact
// changes; a corrupt or unreadable artifact never disturbs the last
// successfully loaded snapshot.
package options
