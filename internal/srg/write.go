package srg

import (
	"bufio"
	"io"

	"mapweaver/internal/atomicfile"
	"mapweaver/internal/mapping"
)

// WriteTSRG serializes t as TSRG v1. Classes and members are emitted in
// sorted order so identical tables produce identical bytes.
func WriteTSRG(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)
	for _, c := range t.Classes() {
		bw.WriteString(c.Original)
		bw.WriteByte(' ')
		bw.WriteString(c.Mapped)
		bw.WriteByte('\n')
		for _, f := range c.Fields() {
			bw.WriteByte('\t')
			bw.WriteString(f.Original)
			bw.WriteByte(' ')
			bw.WriteString(f.Mapped)
			bw.WriteByte('\n')
		}
		for _, m := range c.Methods() {
			bw.WriteByte('\t')
			bw.WriteString(m.Original)
			bw.WriteByte(' ')
			bw.WriteString(m.Descriptor)
			bw.WriteByte(' ')
			bw.WriteString(m.Mapped)
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// WriteFile atomically replaces path with the TSRG v1 form of t.
func WriteFile(path string, t *Table) error {
	err := atomicfile.WriteWith(path, 0o644, func(w io.Writer) error {
		return WriteTSRG(w, t)
	})
	return mapping.Wrap(mapping.ErrIO, err, "writing %s", path)
}
