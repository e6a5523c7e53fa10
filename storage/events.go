package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SetEventRetention configures the automatic pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention = retention
}

// LogEvent inserts an event and applies retention pruning. An empty SessionID
// is filled with the store's own session.
func (s *Store) LogEvent(event Event) error {
	if strings.TrimSpace(event.Kind) == "" {
		return errors.New("storage: event kind is required")
	}
	if event.SessionID == "" {
		event.SessionID = s.sessionID
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := validateSeverity(event.Severity); err != nil {
		return err
	}
	if event.Details == "" {
		event.Details = "{}"
	}
	if !json.Valid([]byte(event.Details)) {
		return errors.New("storage: details must be valid JSON text")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	var peerIdentity *string
	if event.PeerIdentity != nil {
		trimmed := strings.TrimSpace(*event.PeerIdentity)
		if trimmed != "" {
			peerIdentity = &trimmed
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO events (
			session_id,
			kind,
			peer_identity,
			details,
			severity,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID,
		event.Kind,
		nullString(peerIdentity),
		event.Details,
		event.Severity,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event %q: %w", event.Kind, err)
	}

	if s.eventRetention > 0 {
		cutoff := time.Now().Add(-s.eventRetention).UnixMilli()
		if _, err := s.PruneEvents(cutoff); err != nil {
			return fmt.Errorf("prune events: %w", err)
		}
	}

	return nil
}

// LogEventDetails marshals details to JSON and logs the event.
func (s *Store) LogEventDetails(kind, peerIdentity, severity string, details map[string]any) error {
	encoded := "{}"
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode event details: %w", err)
		}
		encoded = string(raw)
	}

	event := Event{
		Kind:     kind,
		Details:  encoded,
		Severity: severity,
	}
	if peerIdentity != "" {
		event.PeerIdentity = &peerIdentity
	}
	return s.LogEvent(event)
}

// GetEvents returns recent events, newest first, with optional filtering.
func (s *Store) GetEvents(filter EventFilter) ([]Event, error) {
	if filter.Severity != "" {
		if err := validateSeverity(filter.Severity); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		session_id,
		kind,
		peer_identity,
		details,
		severity,
		timestamp
	FROM events`)

	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.PeerIdentity != "" {
		where = append(where, "peer_identity = ?")
		args = append(args, filter.PeerIdentity)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}
	if filter.ToTimestamp != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *filter.ToTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}

// PruneEvents removes events older than cutoffTimestamp (unix millis).
func (s *Store) PruneEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("storage: cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events rows affected: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		event        Event
		peerIdentity sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.SessionID,
		&event.Kind,
		&peerIdentity,
		&event.Details,
		&event.Severity,
		&event.Timestamp,
	); err != nil {
		return nil, err
	}

	event.PeerIdentity = stringPtr(peerIdentity)
	return &event, nil
}
