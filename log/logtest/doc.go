/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package logtest provides Recorder, a log.FieldLogger that keeps entries in memory
// so tests can assert what components logged.
package logtest
