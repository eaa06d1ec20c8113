// Package manifest edits the override manifest as text. Every line that is
// not inserted, removed or replaced is written back byte for byte, including
// its original line terminator.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fulmenhq/fwto/pkg/safeio"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/text/cases"
)

// ErrNoTerminator is returned when a declaration cannot be inserted because
// the manifest has no component terminator line.
var ErrNoTerminator = errors.New("no component terminator in manifest")

// EOL terminates inserted declarations.
const EOL = "\r\n"

// Declaration builds the manifest line (without terminator) that overrides src
// with the copy under the destination directory named dstBase.
func Declaration(dstBase, src string) string {
	src = slash(src)
	return fmt.Sprintf(`"%s";"%s"`, path.Join(slash(dstBase), src), src)
}

// DestPath is the destination field Declaration writes for src.
func DestPath(dstBase, src string) string {
	return path.Join(slash(dstBase), slash(src))
}

func slash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// fold normalizes a path for comparison: separators unified, Unicode case folded.
func fold(s string) string {
	return cases.Fold().String(slash(s))
}

// DestField returns the first quoted field of a declaration line.
func DestField(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, `"`) {
		return "", false
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", false
	}
	return s[1 : end+1], true
}

// Document is a manifest split into lines that keep their terminators.
type Document struct {
	lines      []string
	terminator string
}

// Parse splits data into lines. terminator is the component end token,
// matched case-insensitively at the start of a trimmed line.
func Parse(data []byte, terminator string) *Document {
	d := &Document{terminator: fold(terminator)}
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			d.lines = append(d.lines, string(data))
			break
		}
		d.lines = append(d.lines, string(data[:i+1]))
		data = data[i+1:]
	}
	return d
}

// Bytes reassembles the document.
func (d *Document) Bytes() []byte {
	var b bytes.Buffer
	for _, l := range d.lines {
		b.WriteString(l)
	}
	return b.Bytes()
}

// Lines returns the lines with their terminators.
func (d *Document) Lines() []string {
	return append([]string(nil), d.lines...)
}

func content(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func eol(line string) string {
	return line[len(content(line)):]
}

func (d *Document) isTerminator(line string) bool {
	return strings.HasPrefix(fold(strings.TrimSpace(content(line))), d.terminator)
}

// Matches reports whether line declares an override for dest.
func Matches(line, dest string) bool {
	field, ok := DestField(content(line))
	return ok && fold(field) == fold(dest)
}

// Insert places decl immediately before the first terminator line.
func (d *Document) Insert(decl string) error {
	for i, l := range d.lines {
		if !d.isTerminator(l) {
			continue
		}
		lines := make([]string, 0, len(d.lines)+1)
		lines = append(lines, d.lines[:i]...)
		lines = append(lines, decl+EOL)
		lines = append(lines, d.lines[i:]...)
		d.lines = lines
		return nil
	}
	return ErrNoTerminator
}

// Remove drops every declaration for dest and returns how many were dropped.
func (d *Document) Remove(dest string) int {
	kept := d.lines[:0:0]
	removed := 0
	for _, l := range d.lines {
		if Matches(l, dest) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	d.lines = kept
	return removed
}

// Contains reports whether any line declares dest.
func (d *Document) Contains(dest string) bool {
	for _, l := range d.lines {
		if Matches(l, dest) {
			return true
		}
	}
	return false
}

// Replace substitutes the first declaration for oldDest with decl, keeping
// that line's terminator. Other declarations for oldDest or newDest are
// dropped, leaving exactly one declaration for newDest. It reports false and
// changes nothing when oldDest is not declared.
func (d *Document) Replace(oldDest, newDest, decl string) bool {
	first := -1
	for i, l := range d.lines {
		if Matches(l, oldDest) {
			first = i
			break
		}
	}
	if first < 0 {
		return false
	}

	lines := make([]string, 0, len(d.lines))
	for i, l := range d.lines {
		switch {
		case i == first:
			lines = append(lines, decl+eol(l))
		case Matches(l, oldDest), Matches(l, newDest):
		default:
			lines = append(lines, l)
		}
	}
	d.lines = lines
	return true
}

// File is a manifest stored in a workspace filesystem.
type File struct {
	FS         billy.Filesystem
	Path       string
	Terminator string
}

// Load reads and parses the manifest.
func (f *File) Load() (*Document, error) {
	data, err := safeio.ReadFile(f.FS, f.Path)
	if err != nil {
		return nil, err
	}
	return Parse(data, f.Terminator), nil
}

// Save atomically replaces the manifest with doc.
func (f *File) Save(doc *Document) error {
	return safeio.WriteFileAtomic(f.FS, f.Path, doc.Bytes())
}
