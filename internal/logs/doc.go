// Package logs reads the daemon's log files for the CLI.
//
// Tail returns the last lines of a file, or the lines written after a byte
// offset, and can wait for new output in follow mode. A Filter narrows JSON
// log lines by level, component and the conversion or job they belong to.
package logs
