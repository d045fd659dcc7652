package event

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const cloudTrailRecord = `{
	"eventTime": "2026-03-01T10:15:00Z",
	"eventName": "GetObject",
	"sourceIPAddress": "10.0.1.5",
	"userIdentity": {"type": "AssumedRole", "userName": "system:serviceaccount:harbor:harbor-registry"},
	"resources": [{"ARN": "arn:aws:s3:::harbor-registry-storage/docker/registry/v2"}]
}`

func TestIngestJSONLines(t *testing.T) {
	input := strings.ReplaceAll(cloudTrailRecord, "\n", " ") + "\n"
	res, err := Ingest(strings.NewReader(input), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", res.Skipped)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}

	ev := res.Events[0]
	if ev.EventName != "GetObject" {
		t.Errorf("event name = %q", ev.EventName)
	}
	if ev.SourceAddress != "10.0.1.5" {
		t.Errorf("source address = %q", ev.SourceAddress)
	}
	if ev.PrincipalSubject != "system:serviceaccount:harbor:harbor-registry" {
		t.Errorf("subject = %q", ev.PrincipalSubject)
	}
	if ev.PrincipalType != "AssumedRole" {
		t.Errorf("principal type = %q", ev.PrincipalType)
	}
	want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	if !ev.EventTime.Equal(want) {
		t.Errorf("event time = %v, want %v", ev.EventTime, want)
	}
	if len(ev.ResourceIdentifiers) != 1 || !strings.HasPrefix(ev.ResourceIdentifiers[0], "arn:aws:s3") {
		t.Errorf("resources = %v", ev.ResourceIdentifiers)
	}
}

func TestIngestJSONArray(t *testing.T) {
	input := "[" + cloudTrailRecord + "," + cloudTrailRecord + "]"
	res, err := Ingest(strings.NewReader(input), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Errorf("got %d events, want 2", len(res.Events))
	}
}

func TestIngestSkipsMalformedRecords(t *testing.T) {
	lines := []string{
		`{"eventName": "GetObject"}`,                                 // missing time
		`{"eventTime": "not-a-time", "eventName": "GetObject"}`,      // bad time
		`{"eventTime": "2026-03-01T10:15:00Z"}`,                      // missing name
		`not json at all`,                                            // unparsable
		`{"eventTime": "2026-03-01T10:15:00Z", "eventName": "Put"}`,  // valid
	}
	res, err := Ingest(strings.NewReader(strings.Join(lines, "\n")), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 4 {
		t.Errorf("skipped = %d, want 4", res.Skipped)
	}
	if len(res.Errors) != 4 {
		t.Errorf("got %d errors, want 4", len(res.Errors))
	}
	if len(res.Events) != 1 || res.Events[0].EventName != "Put" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestIngestRestartable(t *testing.T) {
	input := "[" + cloudTrailRecord + "]"
	first, err := Ingest(strings.NewReader(input), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Ingest(strings.NewReader(input), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first.Events)
	b, _ := json.Marshal(second.Events)
	if string(a) != string(b) {
		t.Error("re-ingesting the same input produced different events")
	}
}

func TestEventRoundTrip(t *testing.T) {
	res, err := Ingest(strings.NewReader("["+cloudTrailRecord+"]"), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	ev := res.Events[0]

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var back AuditEvent
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}

	if !back.EventTime.Equal(ev.EventTime) || back.EventName != ev.EventName ||
		back.SourceAddress != ev.SourceAddress || back.PrincipalSubject != ev.PrincipalSubject {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, ev)
	}
}

func TestIngestFilesMergesByTime(t *testing.T) {
	dir := t.TempDir()

	shard := func(name string, times ...string) string {
		var sb strings.Builder
		for i, ts := range times {
			sb.WriteString(`{"eventTime": "` + ts + `", "eventName": "ev-` + name + `-` + string(rune('a'+i)) + `"}`)
			sb.WriteString("\n")
		}
		path := filepath.Join(dir, name+".jsonl")
		if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	p1 := shard("one", "2026-03-01T10:00:02Z", "2026-03-01T10:00:04Z")
	p2 := shard("two", "2026-03-01T10:00:01Z", "2026-03-01T10:00:03Z")

	res, err := IngestFiles([]string{p1, p2}, DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 4 {
		t.Fatalf("got %d events, want 4", len(res.Events))
	}
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].EventTime.Before(res.Events[i-1].EventTime) {
			t.Errorf("events not in time order at %d: %v after %v",
				i, res.Events[i].EventTime, res.Events[i-1].EventTime)
		}
	}
}

func TestDottedLookupMissingPath(t *testing.T) {
	input := `{"eventTime": "2026-03-01T10:15:00Z", "eventName": "Get", "userIdentity": "flat-string"}`
	res, err := Ingest(strings.NewReader(input), DefaultMapping())
	if err != nil {
		t.Fatal(err)
	}
	// Subject path traverses a non-object; optional fields just stay empty.
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	if res.Events[0].PrincipalSubject != "" {
		t.Errorf("subject = %q, want empty", res.Events[0].PrincipalSubject)
	}
}
