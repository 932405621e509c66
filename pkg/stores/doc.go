// Package stores provides durable persistence for the control-plane emulator.
//
// SQLiteStore implements controlplane.Store on SQLite (modernc.org/sqlite,
// WAL mode, schema managed by golang-migrate). Besides resources and their
// metadata labels it keeps a history of finished runs, written by the CLI
// and listed by the history command.
package stores
