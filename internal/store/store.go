// Package store provides persistence for alert and investigation history.
package store

import (
	"context"

	"github.com/ashureev/rca-console/internal/domain"
)

// Repository defines the interface for archiving received alerts and
// finished investigations. The live intake buffer and session state stay
// in memory; the repository records history only.
type Repository interface {
	// ArchiveAlerts records a batch of received alerts.
	ArchiveAlerts(ctx context.Context, alerts []domain.Alert) error

	// ArchiveInvestigation records the outcome of a finished session.
	ArchiveInvestigation(ctx context.Context, rec *domain.InvestigationRecord) error

	// ListInvestigations returns archived investigations, newest first,
	// capped at limit.
	ListInvestigations(ctx context.Context, limit int) ([]*domain.InvestigationRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
