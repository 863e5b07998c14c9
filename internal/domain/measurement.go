// Package domain contains the core entities and the ports the sync pipeline
// talks to.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Measurement is a single weight reading taken from the scale.
type Measurement struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	WeightKg  float64   `json:"weightKg"`
	Synced    bool      `json:"synced"`
}

// NewMeasurement stamps a fresh measurement taken at t.
func NewMeasurement(weightKg float64, t time.Time) Measurement {
	return Measurement{
		ID:        uuid.New(),
		Timestamp: t,
		WeightKg:  weightKg,
	}
}

// HistoryStore is the port for local measurement persistence.
type HistoryStore interface {
	Insert(ctx context.Context, m Measurement) error
	MarkSynced(ctx context.Context, id uuid.UUID) error
	// List returns all measurements, newest first.
	List(ctx context.Context) ([]Measurement, error)
}

// Uploader sends a measurement to the backend using a bearer credential.
type Uploader interface {
	Upload(ctx context.Context, m Measurement, credential string) error
}

// CredentialProvider hands out the bearer token for uploads.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// Notifier presents the outcome of a sync cycle to the user.
type Notifier interface {
	Notify(success bool, message string)
}
