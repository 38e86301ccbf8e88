// Package logger provides structured logging for the crawler.
//
// It wraps zerolog behind a small Logger interface so packages can take a
// logger as a dependency and tests can swap in a TestLogger that records
// messages.
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("job", "friends")
//	log.InfoWithFields("Crawl progress", map[string]interface{}{
//	    "line": 1200,
//	})
//
// Console output is colourised and written to stderr. When a log file is
// configured every event is also appended to it as a JSON line.
package logger
