// Package linesource reads the tweets CSV log line by line.
//
// The log is appended to by the tweets job while other jobs read it, so the
// reader treats a blank line, a one-character line or an unterminated trailing
// line as the end of the input rather than an error. Jobs checkpoint Line()
// and call AdvanceTo on restart to skip what they already processed.
package linesource
