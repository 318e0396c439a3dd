package foamdict

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a patch target does not exist.
var ErrNotFound = errors.New("target not found")

// Patch rewrites the value of one entry.
//
// With Block empty, Key is looked up at the top level. Otherwise every
// block named Block, at any depth, is considered; when Type is set the
// block must also carry `type <Type>;`. Key is then a direct entry of each
// selected block.
type Patch struct {
	Block string
	Type  string
	Key   string
	Value string
}

// String describes the patch target, e.g. "FL[rotatingWallVelocity].origin".
func (p Patch) String() string {
	var sb strings.Builder
	if p.Block != "" {
		sb.WriteString(p.Block)
		if p.Type != "" {
			sb.WriteString("[" + p.Type + "]")
		}
		sb.WriteString(".")
	}
	sb.WriteString(p.Key)
	return sb.String()
}

// Find returns the entries p would rewrite, in source order. The error
// wraps ErrNotFound and says whether the block or the key was missing.
func (d *Dict) Find(p Patch) ([]*Entry, error) {
	if p.Block == "" {
		if e := d.Root.Entry(p.Key); e != nil {
			return []*Entry{e}, nil
		}
		return nil, fmt.Errorf("entry %s: %w", p.Key, ErrNotFound)
	}

	var blocks []*Block
	d.Walk(func(b *Block) {
		if !b.Is(p.Block) {
			return
		}
		if p.Type != "" {
			te := b.Entry("type")
			if te == nil || te.Value != p.Type {
				return
			}
		}
		blocks = append(blocks, b)
	})
	if len(blocks) == 0 {
		if p.Type != "" {
			return nil, fmt.Errorf("block %s with type %s: %w", p.Block, p.Type, ErrNotFound)
		}
		return nil, fmt.Errorf("block %s: %w", p.Block, ErrNotFound)
	}

	var entries []*Entry
	for _, b := range blocks {
		if e := b.Entry(p.Key); e != nil {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("entry %s in block %s: %w", p.Key, p.Block, ErrNotFound)
	}
	return entries, nil
}

// Splice returns a copy of the source with each entry's value replaced by
// value. Bytes outside the replaced ranges are untouched.
func (d *Dict) Splice(entries []*Entry, value string) []byte {
	sorted := append([]*Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]byte, 0, len(d.src)+len(value)*len(entries))
	prev := 0
	for _, e := range sorted {
		out = append(out, d.src[prev:e.Start]...)
		if e.Start == e.End {
			out = append(out, ' ')
		}
		out = append(out, value...)
		prev = e.End
	}
	return append(out, d.src[prev:]...)
}

// Apply parses src, locates the target of p and returns the patched
// source. Applying the same patch twice yields the same bytes.
func Apply(src []byte, p Patch) ([]byte, error) {
	d, err := Parse(src)
	if err != nil {
		return nil, err
	}
	entries, err := d.Find(p)
	if err != nil {
		return nil, err
	}
	return d.Splice(entries, p.Value), nil
}
