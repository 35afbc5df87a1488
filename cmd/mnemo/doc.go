// Command mnemo is the workspace memory CLI. It supervises a local worker
// process that stores and retrieves editor memories, starting it on demand
// and shutting it down when the invocation ends.
package main
