package cmd

import "testing"

func TestParseArtifacts(t *testing.T) {
	got, err := parseArtifacts([]string{"notes.txt=/tmp/notes.txt", "pcap=/evidence/cap.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["notes.txt"] != "/tmp/notes.txt" || got["pcap"] != "/evidence/cap.bin" {
		t.Errorf("parsed = %v", got)
	}
}

func TestParseArtifactsEmpty(t *testing.T) {
	got, err := parseArtifacts(nil)
	if err != nil || got != nil {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestParseArtifactsInvalid(t *testing.T) {
	for _, spec := range []string{"noequals", "=path", "name=", ""} {
		if _, err := parseArtifacts([]string{spec}); err == nil {
			t.Errorf("parseArtifacts(%q) accepted", spec)
		}
	}
	if _, err := parseArtifacts([]string{"a=1", "a=2"}); err == nil {
		t.Error("duplicate artifact name accepted")
	}
}
