// Package storage keeps the raw document of every measurement run next to the
// structured CSV log, so a run can be re-examined later.
//
// Drivers:
//   - "file": one <YYYYMMDDHHMMSS>.json file per run in the data directory
//   - "sqlite": rows in the raw_results table of a SQLite database
//   - "none": nothing is stored
package storage
