// Package foamdict reads OpenFOAM dictionary files just far enough to
// locate named blocks and entries, and rewrites single entry values in
// place. Everything outside a patched value is preserved byte for byte.
package foamdict

import (
	"strings"
)

// Entry is a `key value;` statement. Start and End delimit the raw value
// text in the source. For an empty value both sit where the terminator is.
type Entry struct {
	Key        string
	Value      string
	Start, End int
}

// Block is a named `name { ... }` dictionary.
type Block struct {
	Name    string
	Entries []*Entry
	Blocks  []*Block
	Parent  *Block
}

// Entry returns the direct entry with the given key, or nil.
func (b *Block) Entry(key string) *Entry {
	for _, e := range b.Entries {
		if e.Key == key {
			return e
		}
	}
	return nil
}

// Block returns the direct sub-block with the given name, or nil.
func (b *Block) Block(name string) *Block {
	for _, sub := range b.Blocks {
		if sub.Is(name) {
			return sub
		}
	}
	return nil
}

// Is reports whether the block is called name. Quoted names compare
// without their quotes.
func (b *Block) Is(name string) bool {
	return b.Name == name || strings.Trim(b.Name, `"`) == name
}

// Path returns the block names from the root down to b.
func (b *Block) Path() []string {
	var path []string
	for cur := b; cur != nil && cur.Parent != nil; cur = cur.Parent {
		path = append([]string{cur.Name}, path...)
	}
	return path
}

// Dict is a parsed dictionary file.
type Dict struct {
	src  []byte
	Root *Block
}

// Parse reads src. The parser is tolerant: directives (#include and
// friends) and stand-alone $macros are skipped, and a missing semicolon
// before a closing brace is accepted.
func Parse(src []byte) (*Dict, error) {
	toks, err := scan(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root := &Block{}
	if err := p.parseBody(root, false); err != nil {
		return nil, err
	}
	return &Dict{src: src, Root: root}, nil
}

// Walk calls fn for every block in depth-first order, root excluded.
func (d *Dict) Walk(fn func(*Block)) {
	var walk func(*Block)
	walk = func(b *Block) {
		for _, sub := range b.Blocks {
			fn(sub)
			walk(sub)
		}
	}
	walk(d.Root)
}

type parser struct {
	src  []byte
	toks []token
	pos  int
}

func (p *parser) text(t token) string {
	return string(p.src[t.start:t.end])
}

// parseBody reads statements into b until EOF (top level) or the closing
// brace of b.
func (p *parser) parseBody(b *Block, nested bool) error {
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch t.kind {
		case tokRBrace:
			if !nested {
				return &SyntaxError{Line: t.line, Msg: "unexpected '}'"}
			}
			p.pos++
			return nil
		case tokSemi:
			p.pos++
			continue
		case tokVerbatim:
			p.pos++
			continue
		case tokWord, tokString:
			if err := p.parseStatement(b, t); err != nil {
				return err
			}
		default:
			return &SyntaxError{Line: t.line, Msg: "unexpected '" + p.text(t) + "'"}
		}
	}
	if nested {
		return &SyntaxError{Line: p.lastLine(), Msg: "missing '}' for block " + b.Name}
	}
	return nil
}

func (p *parser) parseStatement(b *Block, key token) error {
	name := p.text(key)
	p.pos++

	if strings.HasPrefix(name, "#") {
		p.skipLine(key.line)
		return nil
	}
	next, ok := p.peek()
	if strings.HasPrefix(name, "$") && (!ok || next.line != key.line || next.kind == tokRBrace) {
		return nil
	}

	if ok && next.kind == tokLBrace {
		p.pos++
		sub := &Block{Name: name, Parent: b}
		b.Blocks = append(b.Blocks, sub)
		return p.parseBody(sub, true)
	}

	entry := &Entry{Key: name}
	first, last := -1, -1
	depth := 0
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch t.kind {
		case tokLGroup, tokLBrace:
			depth++
		case tokRGroup:
			depth--
		case tokRBrace:
			if depth == 0 {
				// Missing semicolon; leave the brace for the enclosing block.
				entry.End = t.start
				p.finishEntry(b, entry, first, last)
				return nil
			}
			depth--
		case tokSemi:
			if depth == 0 {
				p.pos++
				entry.End = t.start
				p.finishEntry(b, entry, first, last)
				return nil
			}
		}
		if depth < 0 {
			return &SyntaxError{Line: t.line, Msg: "unbalanced '" + p.text(t) + "' in " + name}
		}
		if first < 0 {
			first = p.pos
		}
		last = p.pos
		p.pos++
	}
	return &SyntaxError{Line: key.line, Msg: "missing ';' after " + name}
}

func (p *parser) finishEntry(b *Block, e *Entry, first, last int) {
	if first >= 0 {
		e.Start = p.toks[first].start
		e.End = p.toks[last].end
		e.Value = string(p.src[e.Start:e.End])
	} else {
		e.Start = e.End
	}
	b.Entries = append(b.Entries, e)
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) skipLine(line int) {
	for p.pos < len(p.toks) && p.toks[p.pos].line == line && p.toks[p.pos].kind != tokRBrace {
		p.pos++
	}
}

func (p *parser) lastLine() int {
	if len(p.toks) == 0 {
		return 1
	}
	return p.toks[len(p.toks)-1].line
}
