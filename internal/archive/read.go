package archive

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/klauspost/compress/zip"

	"mapweaver/internal/atomicfile"
	"mapweaver/internal/mapping"
)

// Read loads an archive written by Write back into a set for channel and
// version. Missing sections read as empty categories.
func Read(path, channel, version string) (*mapping.Set, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mapping.Wrap(mapping.ErrIO, err, "opening archive %s", path)
		}
		return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "opening archive %s", path)
	}
	defer zr.Close()

	byEntry := make(map[string]Section, len(Sections))
	for _, sec := range Sections {
		byEntry[sec.Entry] = sec
	}

	cats := make(map[mapping.Category][]mapping.Entry)
	for _, f := range zr.File {
		sec, ok := byEntry[f.Name]
		if !ok {
			return nil, mapping.Errorf(mapping.ErrMalformedInput, "%s: unexpected entry %q", path, f.Name)
		}
		if _, dup := cats[sec.Category]; dup {
			return nil, mapping.Errorf(mapping.ErrMalformedInput, "%s: duplicate entry %q", path, f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "%s: opening %s", path, f.Name)
		}
		entries, err := readSection(rc, sec)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, f.Name, err)
		}
		cats[sec.Category] = entries
	}

	set := mapping.NewSet(channel, version,
		cats[mapping.Classes], cats[mapping.Fields], cats[mapping.Methods], cats[mapping.Parameters])
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

func readSection(r io.Reader, sec Section) ([]mapping.Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(sec.Header)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "reading header")
	}
	if !slices.Equal(header, sec.Header) {
		return nil, mapping.Errorf(mapping.ErrMalformedInput, "header %q, want %q", header, sec.Header)
	}

	var out []mapping.Entry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mapping.Wrap(mapping.ErrMalformedInput, err, "reading row")
		}
		side, err := mapping.ParseSide(rec[2])
		if err != nil {
			return nil, err
		}
		e := mapping.Entry{Intermediate: rec[0], Mapped: rec[1], Side: side}
		if sec.Category.Documented() {
			e.Doc = rec[3]
		}
		out = append(out, e)
	}
	return out, nil
}

// WriteChecksum writes the hex SHA-1 of the file at path to path+".sha1",
// the checksum sidecar Maven repositories expect next to each artifact.
func WriteChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return mapping.Wrap(mapping.ErrIO, err, "checksumming %s", path)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return mapping.Wrap(mapping.ErrIO, err, "checksumming %s", path)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return mapping.Wrap(mapping.ErrIO, atomicfile.Write(path+".sha1", []byte(sum), 0o644), "writing checksum for %s", path)
}
