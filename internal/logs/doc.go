// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last lines of the file, or the lines appended since a
// byte offset, optionally restricted to the lines that mention one task
// directory. Follow keeps polling until its context ends.
package logs
