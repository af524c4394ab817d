package journal

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

// BundleVersion is the current bundle index schema version.
const BundleVersion = 1

const (
	bundleIndex  = "index.json"
	bundleBlocks = "blocks/"
)

type bundleIndexJSON struct {
	Version  int      `json:"version"`
	Manifest string   `json:"manifest"`
	Blocks   []string `json:"blocks"`
}

// Export writes the job whose manifest is stored under manifest as a tar
// bundle: one blocks/<cid> entry per stored object plus index.json. Entries
// are sorted and headers normalized, so equal jobs give equal bytes.
func (j *Journal) Export(w io.Writer, manifest cid.Cid) error {
	m, err := j.Lookup(manifest)
	if err != nil {
		return err
	}
	names := []string{manifest.String(), m.Request, m.Response}
	if m.Receipt != "" {
		names = append(names, m.Receipt)
	}
	sort.Strings(names)

	tw := tar.NewWriter(w)
	for _, name := range names {
		b, err := j.Load(name)
		if err != nil {
			_ = tw.Close()
			return fmt.Errorf("journal: export %s: %w", name, err)
		}
		if got := ContentIDString(b); got != name {
			_ = tw.Close()
			return fmt.Errorf("%w: %s holds %s", ErrCIDMismatch, name, got)
		}
		if err := writeEntry(tw, bundleBlocks+name, b); err != nil {
			_ = tw.Close()
			return err
		}
	}
	idx, err := json.Marshal(bundleIndexJSON{Version: BundleVersion, Manifest: manifest.String(), Blocks: names})
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeEntry(tw, bundleIndex, append(idx, '\n')); err != nil {
		_ = tw.Close()
		return err
	}
	return tw.Close()
}

// Import reads a bundle written by Export into the journal's store and
// returns the manifest CID. Every block must match its name; unknown entries
// are rejected.
func (j *Journal) Import(r io.Reader) (cid.Cid, error) {
	tr := tar.NewReader(r)
	var idx *bundleIndexJSON
	seen := make(map[string]bool)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cid.Undef, err
		}
		if h.Typeflag != tar.TypeReg {
			return cid.Undef, fmt.Errorf("journal: unexpected bundle entry %q", h.Name)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return cid.Undef, err
		}

		switch name := h.Name; {
		case name == bundleIndex:
			idx = new(bundleIndexJSON)
			if err := json.Unmarshal(b, idx); err != nil {
				return cid.Undef, fmt.Errorf("journal: decode bundle index: %w", err)
			}
		case strings.HasPrefix(name, bundleBlocks):
			want := strings.TrimPrefix(name, bundleBlocks)
			if _, err := cid.Decode(want); err != nil {
				return cid.Undef, fmt.Errorf("%w: %q", ErrInvalidCID, want)
			}
			if seen[want] {
				return cid.Undef, fmt.Errorf("journal: duplicate bundle block %s", want)
			}
			seen[want] = true
			id, err := j.store.Put(b)
			if err != nil {
				return cid.Undef, err
			}
			if id.String() != want {
				return cid.Undef, fmt.Errorf("%w: entry %s holds %s", ErrCIDMismatch, want, id)
			}
		default:
			return cid.Undef, fmt.Errorf("journal: unknown bundle entry %q", name)
		}
	}

	if idx == nil {
		return cid.Undef, errors.New("journal: bundle has no index")
	}
	if idx.Version != BundleVersion {
		return cid.Undef, fmt.Errorf("journal: unsupported bundle version %d", idx.Version)
	}
	if !seen[idx.Manifest] {
		return cid.Undef, fmt.Errorf("journal: bundle lacks manifest block %s", idx.Manifest)
	}
	id, err := cid.Decode(idx.Manifest)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %q", ErrInvalidCID, idx.Manifest)
	}
	if _, err := j.Lookup(id); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
