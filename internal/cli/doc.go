// Parses flags and configures logging for the kiln CLI.
//
// The CLI exposes three commands:
//
//	build     Run a staged build from a spec file.
//	cache     Inspect or garbage-collect the local artifact cache.
//	version   Show version information.
//
// Global flags override build-time defaults set via linker flags. After
// parsing, the global logger is reconfigured to reflect the final level and
// verbosity before the selected command runs.
package cli
