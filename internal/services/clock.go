package services

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator supplies unique identifiers
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDs
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }
