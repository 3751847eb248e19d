package types

import (
	"context"
)

// RecordSource returns the tabular records of one property. Every method
// returns an empty, non-nil slice when nothing matches.
type RecordSource interface {
	// FetchFindings returns the most recent findings, newest first.
	FetchFindings(ctx context.Context, propertyID string) ([]Row, error)
	// FetchRootCauseAggregates returns one row per (room type, cause).
	FetchRootCauseAggregates(ctx context.Context, propertyID string) ([]Row, error)
	// FetchFutureRiskAggregates returns one row per (room type, event).
	FetchFutureRiskAggregates(ctx context.Context, propertyID string) ([]Row, error)
}

// NewFinding is a finding recorded by the ingestion path.
type NewFinding struct {
	InspectionID string
	RoomID       string
	DefectType   string
	Severity     Severity
	Description  string
	ImageRef     string
}

// DefectTag is the model-assigned classification of one finding.
type DefectTag struct {
	FindingID  string
	DefectType string
	Severity   Severity
	Confidence float64
}

// FindingWriter records ingested findings and their tags.
type FindingWriter interface {
	InsertFinding(ctx context.Context, f NewFinding) (string, error)
	InsertDefectTag(ctx context.Context, t DefectTag) (string, error)
}
