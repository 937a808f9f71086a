// Package audit keeps an append-only journal of deploy and destroy events
// in a local SQLite database. The journal exists for operators: when an
// operation fails partway (workload changed, registry or entrypoint not),
// the journal shows which ports a class was assigned and when, which is
// what manual reconciliation needs. It is strictly advisory — callers treat
// write failures as log-worthy, never as operation failures.
package audit
