// Package notifier delivers alert messages to the operator.
//
// # Channels
//
// Mailer sends e-mail over SMTP and is the primary channel. Telegram is an
// optional second channel for operators who prefer chat alerts. Fanout sends
// one message through several channels and reports every failure.
//
// # Simulation
//
// Every channel honours a simulate flag: instead of delivering, it prints the
// message it would have sent to its output writer (stdout in the CLI) and
// returns nil. Dry runs and tests use this path.
package notifier
