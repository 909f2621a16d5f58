// Command convertd runs the conversion daemon and manages its files,
// conversions, schedules and queue from the command line.
//
// Management commands open the configured stores directly, so they work
// whether or not the daemon is running.
package main
