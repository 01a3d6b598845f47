// Package id generates identifiers that correlate the log lines of one run.
package id

import "github.com/google/uuid"

// NewRunID returns a time-ordered UUIDv7 string, or a random UUIDv4 if the v7
// source fails.
func NewRunID() string {
	if u, err := uuid.NewV7(); err == nil {
		return u.String()
	}
	return uuid.NewString()
}
