// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

// Clock implements digest.Clock using time.Now.
type Clock struct{}

var _ digest.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Today returns the batch day that contains the current instant.
func (c Clock) Today() digest.DateKey {
	return digest.DateKeyFor(c.Now())
}
