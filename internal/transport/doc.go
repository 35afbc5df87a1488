// Package transport owns the worker child process and its stdio pipes.
//
// It frames outgoing messages as one JSON object per line, de-frames
// incoming stdout into line events, and surfaces raw lifecycle signals
// (stderr output, process exit) through a single event channel with a fixed
// set of variants. The package knows nothing about JSON-RPC semantics: what
// a line means is the request router's business. Killing escalates from a
// polite terminate to a forced kill when the process outlives the grace
// window.
package transport
