package bundle

import (
	"archive/tar"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tinkerbelle-io/tb-correlate/internal/signing"
)

// VerifyReport summarizes an archive integrity check.
type VerifyReport struct {
	Manifest       Manifest
	MissingEntries []string
	ExtraEntries   []string
	BadDigests     []string
	IntegrityOK    bool
	Attested       bool
	AttestationOK  bool
}

// OK reports whether every check passed. An unattested bundle passes
// when no public key was supplied; a signed manifest checked against a
// key must verify.
func (r *VerifyReport) OK() bool {
	if len(r.MissingEntries) > 0 || len(r.ExtraEntries) > 0 || len(r.BadDigests) > 0 {
		return false
	}
	if !r.IntegrityOK {
		return false
	}
	if r.Attested && !r.AttestationOK {
		return false
	}
	return true
}

// Verify reopens a finalized archive, recomputes every entry digest and
// the manifest integrity hash, and checks the attestation when pub is
// non-nil and the manifest carries a signature.
func Verify(path string, pub ed25519.PublicKey) (*VerifyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", path, err)
	}
	defer f.Close()

	contents, err := readArchive(f)
	if err != nil {
		return nil, err
	}

	manifestData, ok := contents[ManifestEntry]
	if !ok {
		return nil, fmt.Errorf("bundle: %s missing %s", path, ManifestEntry)
	}
	delete(contents, ManifestEntry)

	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("bundle: parse manifest: %w", err)
	}

	report := &VerifyReport{Manifest: manifest}

	for name, want := range manifest.Digests {
		data, ok := contents[name]
		if !ok {
			report.MissingEntries = append(report.MissingEntries, name)
			continue
		}
		sum := sha256.Sum256(data)
		if fmt.Sprintf("%x", sum) != want {
			report.BadDigests = append(report.BadDigests, name)
		}
		delete(contents, name)
	}
	for name := range contents {
		report.ExtraEntries = append(report.ExtraEntries, name)
	}

	wantHash, err := IntegrityHash(manifest)
	if err != nil {
		return nil, err
	}
	report.IntegrityOK = wantHash == manifest.IntegrityHash

	if manifest.Signature != "" && pub != nil {
		report.Attested = true
		report.AttestationOK = signing.VerifyAttestation(pub, manifest.IntegrityHash, manifest.Signature)
	}
	return report, nil
}

func readArchive(r io.Reader) (map[string][]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("bundle: not a gzip archive: %w", err)
	}
	defer gz.Close()

	contents := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bundle: read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("bundle: read entry %s: %w", hdr.Name, err)
		}
		contents[hdr.Name] = data
	}
	return contents, nil
}
