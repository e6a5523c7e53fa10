package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	// SeverityInfo marks routine connection events.
	SeverityInfo = "info"
	// SeverityWarning marks failures worth an operator's attention.
	SeverityWarning = "warning"
	// SeverityCritical marks serious security failures.
	SeverityCritical = "critical"
)

// Event is one audit log row.
type Event struct {
	ID           int64
	SessionID    string
	Kind         string
	PeerIdentity *string
	Details      string
	Severity     string
	Timestamp    int64
}

// EventFilter narrows GetEvents results.
type EventFilter struct {
	SessionID     string
	Kind          string
	PeerIdentity  string
	Severity      string
	FromTimestamp *int64
	ToTimestamp   *int64
	Limit         int
	Offset        int
}

func validateSeverity(severity string) error {
	switch severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid event severity %q", severity)
	}
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
