package srg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"mapweaver/internal/mapping"
)

// Format identifies a mapping file syntax.
type Format string

const (
	FormatProGuard Format = "proguard"
	FormatTSRG     Format = "tsrg"
	FormatTSRG2    Format = "tsrg2"
)

// Load reads the mapping file at path, detecting its format from content.
//
// A file that cannot be opened is reported as a missing upstream artifact;
// a file that cannot be parsed is reported as malformed input.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrMissingUpstreamArtifact, err, "loading %s", path)
	}
	t, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return t, nil
}

// Parse reads a mapping file from r, detecting its format from content.
func Parse(r io.Reader) (*Table, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, mapping.Wrap(mapping.ErrIO, err, "reading mappings")
	}
	switch DetectFormat(lines) {
	case FormatProGuard:
		return parseProGuard(lines)
	case FormatTSRG2:
		return parseTSRG2(lines)
	default:
		return parseTSRG(lines)
	}
}

// DetectFormat inspects the first significant line.
func DetectFormat(lines []string) Format {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "tsrg2 ") {
			return FormatTSRG2
		}
		if strings.Contains(trimmed, " -> ") {
			return FormatProGuard
		}
		return FormatTSRG
	}
	return FormatTSRG
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}

func malformed(line int, format string, args ...any) error {
	return mapping.Errorf(mapping.ErrMalformedInput, "line %d: %s", line, fmt.Sprintf(format, args...))
}

// parseProGuard reads:
//
//	net.minecraft.Foo -> abc:
//	    int count -> a
//	    12:14:void tick(int,java.lang.String):30:32 -> b
func parseProGuard(lines []string) (*Table, error) {
	t := NewTable()
	var cls *Class
	for i, raw := range lines {
		n := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		left, right, ok := strings.Cut(line, " -> ")
		if !ok {
			return nil, malformed(n, "missing ' -> ' separator")
		}
		if !isIndented(raw) {
			if !strings.HasSuffix(right, ":") {
				return nil, malformed(n, "class line must end with ':'")
			}
			cls = t.AddClass(internalName(left), internalName(strings.TrimSuffix(right, ":")))
			continue
		}
		if cls == nil {
			return nil, malformed(n, "member before any class")
		}
		mapped := strings.TrimSpace(right)
		if open := strings.IndexByte(left, '('); open >= 0 {
			name, desc, err := proGuardMethod(left, open)
			if err != nil {
				return nil, malformed(n, "%v", err)
			}
			cls.AddMethod(name, desc, mapped)
			continue
		}
		typ, name, ok := strings.Cut(left, " ")
		if !ok {
			return nil, malformed(n, "field line needs a type and a name")
		}
		cls.AddField(name, mapped, typeDescriptor(typ))
	}
	return t, nil
}

func proGuardMethod(left string, open int) (name, desc string, err error) {
	head := stripLineRange(left[:open])
	closeIdx := strings.IndexByte(left[open:], ')')
	if closeIdx < 0 {
		return "", "", fmt.Errorf("unterminated parameter list")
	}
	params := left[open+1 : open+closeIdx]

	ret, name, ok := strings.Cut(strings.TrimSpace(head), " ")
	if !ok || name == "" {
		return "", "", fmt.Errorf("method line needs a return type and a name")
	}

	var b strings.Builder
	b.WriteByte('(')
	if params != "" {
		for _, p := range strings.Split(params, ",") {
			b.WriteString(typeDescriptor(strings.TrimSpace(p)))
		}
	}
	b.WriteByte(')')
	b.WriteString(typeDescriptor(ret))
	return name, b.String(), nil
}

// stripLineRange removes a leading "12:34:" source line range.
func stripLineRange(s string) string {
	for k := 0; k < 2; k++ {
		idx := strings.IndexByte(s, ':')
		if idx <= 0 || !isDigits(s[:idx]) {
			return s
		}
		s = s[idx+1:]
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var primitiveDescriptors = map[string]string{
	"void":    "V",
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
}

// typeDescriptor converts a Java source type such as "java.lang.String[]"
// into its JVM descriptor.
func typeDescriptor(typ string) string {
	dims := 0
	for strings.HasSuffix(typ, "[]") {
		typ = strings.TrimSuffix(typ, "[]")
		dims++
	}
	desc, ok := primitiveDescriptors[typ]
	if !ok {
		desc = "L" + internalName(typ) + ";"
	}
	return strings.Repeat("[", dims) + desc
}

func internalName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), ".", "/")
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// parseTSRG reads TSRG v1:
//
//	a net/minecraft/Foo
//		b field_1_a
//		c (La;)V func_2_b
//
// Package lines ("a/ net/minecraft/") are skipped.
func parseTSRG(lines []string) (*Table, error) {
	t := NewTable()
	var cls *Class
	for i, raw := range lines {
		n := i + 1
		if strings.TrimSpace(raw) == "" || strings.HasPrefix(strings.TrimSpace(raw), "#") {
			continue
		}
		cols := strings.Fields(raw)
		if !isIndented(raw) {
			if len(cols) != 2 {
				return nil, malformed(n, "class line needs 2 columns, got %d", len(cols))
			}
			if strings.HasSuffix(cols[0], "/") {
				cls = nil
				continue
			}
			cls = t.AddClass(cols[0], cols[1])
			continue
		}
		if cls == nil {
			return nil, malformed(n, "member before any class")
		}
		switch len(cols) {
		case 2:
			cls.AddField(cols[0], cols[1], "")
		case 3:
			if !strings.HasPrefix(cols[1], "(") {
				return nil, malformed(n, "method descriptor %q must start with '('", cols[1])
			}
			cls.AddMethod(cols[0], cols[1], cols[2])
		default:
			return nil, malformed(n, "member line needs 2 or 3 columns, got %d", len(cols))
		}
	}
	return t, nil
}

// parseTSRG2 reads TSRG v2. Only the first two namespaces are kept.
// Parameter and "static" lines (two tabs deep) are skipped.
func parseTSRG2(lines []string) (*Table, error) {
	t := NewTable()
	var cls *Class
	spaces := 0
	for i, raw := range lines {
		n := i + 1
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		cols := strings.Fields(raw)
		if spaces == 0 {
			if cols[0] != "tsrg2" || len(cols) < 3 {
				return nil, malformed(n, "tsrg2 header needs at least two namespaces")
			}
			spaces = len(cols) - 1
			continue
		}
		switch {
		case strings.HasPrefix(raw, "\t\t"):
			continue
		case !isIndented(raw):
			if len(cols) != spaces {
				return nil, malformed(n, "class line needs %d columns, got %d", spaces, len(cols))
			}
			cls = t.AddClass(cols[0], cols[1])
		default:
			if cls == nil {
				return nil, malformed(n, "member before any class")
			}
			switch len(cols) {
			case spaces:
				cls.AddField(cols[0], cols[1], "")
			case spaces + 1:
				if strings.HasPrefix(cols[1], "(") {
					cls.AddMethod(cols[0], cols[1], cols[2])
				} else {
					cls.AddField(cols[0], cols[2], cols[1])
				}
			default:
				return nil, malformed(n, "member line needs %d or %d columns, got %d", spaces, spaces+1, len(cols))
			}
		}
	}
	if spaces == 0 {
		return nil, malformed(1, "missing tsrg2 header")
	}
	return t, nil
}
