// Package archive serializes mapping sets into reproducible zip archives.
//
// An archive holds one CSV section per non-empty category. Empty categories
// are omitted entirely. Every section has a fixed header, quotes every
// field, and terminates rows with a single '\n'. Zip entries carry a fixed
// modification time and a fixed compression level, so writing the same set
// twice, on any machine, yields byte-identical archives.
package archive

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"mapweaver/internal/atomicfile"
	"mapweaver/internal/mapping"
)

// StableTime is the modification time stamped on every entry.
var StableTime = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// compressionLevel is part of the output bytes; changing it changes every archive.
const compressionLevel = flate.BestCompression

// Section describes one category's CSV entry.
type Section struct {
	Category mapping.Category
	Entry    string
	Header   []string
}

// Sections lists every section in the order it is written.
var Sections = []Section{
	{Category: mapping.Classes, Entry: "classes.csv", Header: []string{"searge", "name", "side", "desc"}},
	{Category: mapping.Fields, Entry: "fields.csv", Header: []string{"searge", "name", "side", "desc"}},
	{Category: mapping.Methods, Entry: "methods.csv", Header: []string{"searge", "name", "side", "desc"}},
	{Category: mapping.Parameters, Entry: "params.csv", Header: []string{"param", "name", "side"}},
}

// Write atomically replaces path with the archive of set.
//
// Fails with mapping.ErrIO when path cannot be replaced, e.g. when a
// directory occupies it.
func Write(path string, set *mapping.Set) error {
	if set == nil {
		return mapping.Errorf(mapping.ErrMalformedInput, "nil mapping set")
	}
	err := atomicfile.WriteWith(path, 0o644, func(w io.Writer) error {
		return Encode(w, set)
	})
	return mapping.Wrap(mapping.ErrIO, err, "writing archive %s", path)
}

// Encode writes the archive of set to w.
func Encode(w io.Writer, set *mapping.Set) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, compressionLevel)
	})
	for _, sec := range Sections {
		entries := set.Entries(sec.Category)
		if len(entries) == 0 {
			continue
		}
		ew, err := zw.CreateHeader(&zip.FileHeader{
			Name:     sec.Entry,
			Method:   zip.Deflate,
			Modified: StableTime,
		})
		if err != nil {
			return err
		}
		if err := writeSection(ew, sec, entries); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Bytes returns the archive of set in memory.
func Bytes(set *mapping.Set) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, set); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSection(w io.Writer, sec Section, entries []mapping.Entry) error {
	bw := bufio.NewWriter(w)
	writeRow(bw, sec.Header)
	documented := sec.Category.Documented()
	row := make([]string, len(sec.Header))
	for _, e := range entries {
		row[0], row[1], row[2] = e.Intermediate, e.Mapped, e.Side.Code()
		if documented {
			row[3] = e.Doc
		}
		writeRow(bw, row)
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteByte('\n')
}
