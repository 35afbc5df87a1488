// Package memstore persists memory records in a local SQLite database and
// answers keyword-relevance queries over them. It is used by the worker
// process, never by the supervisor directly.
package memstore
