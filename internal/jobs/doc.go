// Package jobs implements the crawl jobs run by crawl.Runner.
//
// tweets pages through a full-archive search and appends to the tweet log.
// users and friends read that log line by line and store what they fetch in
// a checkpoint store, together with the line reached. geos searches batches
// of authors for geotagged tweets and merges the places into stored users.
// prior and activity walk the stored users. counts runs a single counts query
// for a summary.
//
// Every job commits its data and its checkpoint in one store transaction, so
// a job stopped at any point resumes without repeating or losing work.
// Accounts that are protected or gone are recorded as sentinels and never
// requested again.
package jobs
