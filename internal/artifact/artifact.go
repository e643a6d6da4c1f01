// Package artifact names upstream files by Maven-style coordinates and
// locates them on local disk.
//
// Fetching artifacts is not this repository's concern: a Locator only maps
// a coordinate to a file that some other tool already placed on disk.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by a Locator when no file exists for a coordinate.
var ErrNotFound = errors.New("artifact not found")

// Coordinate identifies an artifact as group:name:version[:classifier][@ext].
type Coordinate struct {
	Group      string
	Name       string
	Version    string
	Classifier string
	Ext        string
}

// Parse decodes a coordinate string. The extension defaults to "jar".
func Parse(s string) (Coordinate, error) {
	coord, ext, hasExt := strings.Cut(s, "@")
	if hasExt && ext == "" {
		return Coordinate{}, fmt.Errorf("coordinate %q: empty extension", s)
	}
	if !hasExt {
		ext = "jar"
	}
	parts := strings.Split(coord, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return Coordinate{}, fmt.Errorf("coordinate %q: want group:name:version[:classifier][@ext]", s)
	}
	for i, p := range parts {
		if p == "" {
			return Coordinate{}, fmt.Errorf("coordinate %q: empty component %d", s, i)
		}
	}
	c := Coordinate{Group: parts[0], Name: parts[1], Version: parts[2], Ext: ext}
	if len(parts) == 4 {
		c.Classifier = parts[3]
	}
	return c, nil
}

// MustParse is Parse for coordinates known to be valid.
func MustParse(s string) Coordinate {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Coordinate) String() string {
	s := c.Group + ":" + c.Name + ":" + c.Version
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s + "@" + c.Ext
}

// FileName returns name-version[-classifier].ext.
func (c Coordinate) FileName() string {
	base := c.Name + "-" + c.Version
	if c.Classifier != "" {
		base += "-" + c.Classifier
	}
	return base + "." + c.Ext
}

// RepoPath returns the slash separated Maven repository layout path.
func (c Coordinate) RepoPath() string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Name, c.Version, c.FileName())
}

// Locator finds upstream artifacts on local disk.
type Locator interface {
	// Locate returns the path of the file for c, or an error wrapping
	// ErrNotFound when none exists.
	Locate(ctx context.Context, c Coordinate) (string, error)
}

// RepoLocator resolves coordinates inside local Maven-layout directories,
// searched in order.
type RepoLocator struct {
	Roots []string
}

// NewRepoLocator returns a locator over roots.
func NewRepoLocator(roots ...string) *RepoLocator {
	return &RepoLocator{Roots: roots}
}

func (l *RepoLocator) Locate(ctx context.Context, c Coordinate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.FromSlash(c.RepoPath())
	for _, root := range l.Roots {
		p := filepath.Join(root, rel)
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("locating %s: %w", c, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, c)
}

// CachePath returns where a derived file for c lives under a cache root.
func CachePath(root string, c Coordinate) string {
	return filepath.Join(root, filepath.FromSlash(c.RepoPath()))
}
