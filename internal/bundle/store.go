package bundle

import (
	"archive/tar"
	"compress/gzip"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinkerbelle-io/tb-correlate/internal/signing"
)

// ErrAlreadyFinalized reports an attempt to finalize a bundle for an
// incident that already has one. Bundles are write-once; the caller must
// pick a new incident id or move the existing archive aside.
var ErrAlreadyFinalized = errors.New("bundle already finalized")

// toolName lands in every manifest so a reviewer knows what produced it.
const toolName = "tb-correlate"

// Store writes finalized bundles into a directory. Archives land as
// <incident-id>.tar.gz via a temp file and rename, so a failed attempt
// leaves nothing behind and a retry starts clean.
type Store struct {
	Dir string
}

// Path returns where the bundle for an incident would live. The id is
// sanitized so it cannot traverse out of the store directory.
func (s *Store) Path(incidentID string) string {
	return filepath.Join(s.Dir, sanitizeID(incidentID)+".tar.gz")
}

// Finalize seals a builder into an archive. A non-nil key attests the
// manifest before it is written. Returns the manifest and archive path.
func (s *Store) Finalize(b *Builder, key ed25519.PrivateKey) (*Manifest, string, error) {
	path := s.Path(b.incidentID)
	if _, err := os.Stat(path); err == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrAlreadyFinalized, path)
	}

	entries, err := b.entries()
	if err != nil {
		return nil, "", err
	}
	manifest, err := b.manifest(entries, toolName)
	if err != nil {
		return nil, "", err
	}
	if key != nil {
		manifest.Signature = signing.Attest(key, manifest.IntegrityHash)
	}

	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return nil, "", fmt.Errorf("bundle: create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".bundle-*.tar.gz")
	if err != nil {
		return nil, "", fmt.Errorf("bundle: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeArchive(tmp, manifest, entries); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, "", fmt.Errorf("bundle: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, "", fmt.Errorf("bundle: finalize %s: %w", path, err)
	}
	return &manifest, path, nil
}

func writeArchive(f *os.File, manifest Manifest, entries []entry) error {
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshal manifest: %w", err)
	}

	all := append([]entry{{name: ManifestEntry, data: manifestData}}, entries...)
	for _, e := range all {
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0600,
			Size:    int64(len(e.data)),
			ModTime: manifest.CreatedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("bundle: write header %s: %w", e.name, err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("bundle: write entry %s: %w", e.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("bundle: close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("bundle: close gzip: %w", err)
	}
	return nil
}

func sanitizeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := strings.Trim(sb.String(), "-")
	if out == "" {
		out = "incident"
	}
	return out
}
