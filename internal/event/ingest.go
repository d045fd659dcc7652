package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// IngestResult aggregates one ingest pass. Malformed records are skipped and
// counted, never fatal to the run.
type IngestResult struct {
	Events  []AuditEvent
	Skipped int
	Errors  []*MalformedRecordError
}

// Ingest parses raw audit-log records from r using the given field mapping.
// Input is either a JSON array of records or JSON-lines. The result is a
// pure function of the input: re-running over the same bytes yields the
// same events in the same order.
func Ingest(r io.Reader, mapping FieldMapping) (*IngestResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return ingestArray(trimmed, mapping)
	}
	return ingestLines(data, mapping)
}

func ingestArray(data []byte, mapping FieldMapping) (*IngestResult, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse record array: %w", err)
	}

	res := &IngestResult{}
	for i, raw := range records {
		res.add(i, raw, mapping)
	}
	return res, nil
}

func ingestLines(data []byte, mapping FieldMapping) (*IngestResult, error) {
	res := &IngestResult{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	i := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		res.add(i, raw, mapping)
		i++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	return res, nil
}

// add normalizes one raw record into an AuditEvent, or records a skip.
func (res *IngestResult) add(index int, raw json.RawMessage, mapping FieldMapping) {
	ev, merr := normalize(index, raw, mapping)
	if merr != nil {
		res.Skipped++
		res.Errors = append(res.Errors, merr)
		return
	}
	res.Events = append(res.Events, ev)
}

func normalize(index int, raw json.RawMessage, mapping FieldMapping) (AuditEvent, *MalformedRecordError) {
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return AuditEvent{}, &MalformedRecordError{Index: index, Field: "", Reason: "not a JSON object"}
	}

	ts, ok := lookupString(record, mapping.Time)
	if !ok {
		return AuditEvent{}, &MalformedRecordError{Index: index, Field: mapping.Time, Reason: "required field missing"}
	}
	eventTime, err := parseEventTime(ts)
	if err != nil {
		return AuditEvent{}, &MalformedRecordError{Index: index, Field: mapping.Time, Reason: err.Error()}
	}

	name, ok := lookupString(record, mapping.Name)
	if !ok {
		return AuditEvent{}, &MalformedRecordError{Index: index, Field: mapping.Name, Reason: "required field missing"}
	}

	ev := AuditEvent{
		EventTime: eventTime,
		EventName: name,
		Raw:       raw,
	}
	ev.PrincipalSubject, _ = lookupString(record, mapping.Subject)
	ev.PrincipalType, _ = lookupString(record, mapping.SubjectType)
	ev.SourceAddress, _ = lookupString(record, mapping.Address)
	ev.ResourceIdentifiers = lookupResources(record, mapping.Resources)

	return ev, nil
}

// lookup resolves a dotted path into nested JSON objects.
func lookup(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = record
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(record map[string]any, path string) (string, bool) {
	v, ok := lookup(record, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// lookupResources accepts either a list of strings or a list of objects
// carrying an ARN/arn/id/name key (CloudTrail resource entries).
func lookupResources(record map[string]any, path string) []string {
	v, ok := lookup(record, path)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range list {
		switch r := item.(type) {
		case string:
			if r != "" {
				out = append(out, r)
			}
		case map[string]any:
			for _, key := range []string{"ARN", "arn", "resourceName", "id", "name"} {
				if s, ok := r[key].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

// IngestFiles ingests one or more event shards and merges their output by
// stable sort on event time, so downstream time-window matching sees a
// monotonic event order within a single correlation pass.
func IngestFiles(paths []string, mapping FieldMapping) (*IngestResult, error) {
	merged := &IngestResult{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open events %s: %w", path, err)
		}
		res, err := Ingest(f, mapping)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", path, err)
		}
		merged.Events = append(merged.Events, res.Events...)
		merged.Skipped += res.Skipped
		merged.Errors = append(merged.Errors, res.Errors...)
	}

	sort.SliceStable(merged.Events, func(i, j int) bool {
		return merged.Events[i].EventTime.Before(merged.Events[j].EventTime)
	})
	return merged, nil
}
