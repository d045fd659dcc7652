// Package event ingests raw audit-log records into normalized AuditEvents.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent is one normalized audit-log record. Immutable once ingested.
type AuditEvent struct {
	EventTime           time.Time       `json:"event_time"`
	EventName           string          `json:"event_name"`
	SourceAddress       string          `json:"source_address,omitempty"`
	PrincipalSubject    string          `json:"principal_subject,omitempty"`
	PrincipalType       string          `json:"principal_type,omitempty"`
	ResourceIdentifiers []string        `json:"resource_identifiers,omitempty"`
	Raw                 json.RawMessage `json:"raw,omitempty"`
}

// FieldMapping names the raw-record keys that hold each required field.
// Keys may use dotted paths to reach nested objects ("userIdentity.userName").
type FieldMapping struct {
	Time        string `yaml:"time" json:"time"`
	Name        string `yaml:"name" json:"name"`
	Subject     string `yaml:"subject" json:"subject"`
	SubjectType string `yaml:"subject_type" json:"subject_type"`
	Address     string `yaml:"address" json:"address"`
	Resources   string `yaml:"resources" json:"resources"`
}

// DefaultMapping matches CloudTrail-shaped records.
func DefaultMapping() FieldMapping {
	return FieldMapping{
		Time:        "eventTime",
		Name:        "eventName",
		Subject:     "userIdentity.userName",
		SubjectType: "userIdentity.type",
		Address:     "sourceIPAddress",
		Resources:   "resources",
	}
}

// MalformedRecordError reports one raw record that could not be normalized.
// The record is skipped and counted; ingest continues.
type MalformedRecordError struct {
	Index  int    // zero-based position within the input
	Field  string // the mapped field that failed
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

// Accepted timestamp layouts, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02T15:04:05",
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as an absolute instant", s)
}
