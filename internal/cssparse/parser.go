// Package cssparse turns raw stylesheets into rules and token observations.
// Parsing is tolerant: anything the tokenizer cannot make sense of is
// dropped, never fatal, because production CSS is full of hacks and vendor
// syntax.
package cssparse

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// Declaration is one property:value pair inside a rule.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// Rule is a style rule with its enclosing media context.
type Rule struct {
	Selectors    []string
	Declarations []Declaration
	Media        []string // enclosing @media preludes, outermost first
}

// Sheet is one parsed stylesheet.
type Sheet struct {
	Rules   []Rule
	Imports []string // @import targets in source order
	Invalid int64    // declarations dropped as malformed
	// Truncated is set when the tokenizer hit an unrecoverable error and the
	// tail of the sheet was discarded.
	Truncated bool
}

// ParseSheet parses CSS source. It never fails; damage is confined to the
// constructs it cannot read.
func ParseSheet(css string) *Sheet {
	p := &parser{s: scanner.New(css), sheet: &Sheet{}}
	p.parseRules(nil, true)
	return p.sheet
}

// ExtractImports returns the @import targets of a stylesheet in order,
// without building observation state. The fetcher uses this to walk the
// import graph before anything is parsed for tokens.
func ExtractImports(css string) []string {
	return ParseSheet(css).Imports
}

type parser struct {
	s      *scanner.Scanner
	peeked *scanner.Token
	sheet  *Sheet
}

// next returns the next meaningful token, skipping comments and SGML relics.
func (p *parser) next() *scanner.Token {
	if t := p.peeked; t != nil {
		p.peeked = nil
		return t
	}
	for {
		t := p.s.Next()
		switch t.Type {
		case scanner.TokenComment, scanner.TokenCDO, scanner.TokenCDC, scanner.TokenBOM:
			continue
		}
		return t
	}
}

func (p *parser) peek() *scanner.Token {
	if p.peeked == nil {
		p.peeked = p.next()
	}
	return p.peeked
}

func done(t *scanner.Token) bool {
	return t.Type == scanner.TokenEOF || t.Type == scanner.TokenError
}

func isChar(t *scanner.Token, c string) bool {
	return t.Type == scanner.TokenChar && t.Value == c
}

// parseRules consumes rules until the closing brace of the current block.
func (p *parser) parseRules(media []string, topLevel bool) {
	for {
		t := p.peek()
		switch {
		case done(t):
			if t.Type == scanner.TokenError {
				p.sheet.Truncated = true
			}
			return
		case t.Type == scanner.TokenS || isChar(t, ";"):
			p.next()
		case isChar(t, "}"):
			p.next()
			if !topLevel {
				return
			}
		case t.Type == scanner.TokenAtKeyword:
			p.parseAtRule(media)
		default:
			p.parseStyleRule(media)
		}
	}
}

func (p *parser) parseAtRule(media []string) {
	at := p.next()
	name := strings.ToLower(strings.TrimPrefix(at.Value, "@"))
	prelude, term := p.readPrelude()

	if term != "{" {
		// Statement at-rule (@import, @charset, @namespace), already
		// consumed through its semicolon.
		if name == "import" {
			if target := importTarget(prelude); target != "" {
				p.sheet.Imports = append(p.sheet.Imports, target)
			}
		}
		return
	}

	switch name {
	case "media":
		nested := make([]string, len(media), len(media)+1)
		copy(nested, media)
		nested = append(nested, strings.TrimSpace(prelude))
		p.parseRules(nested, false)
	case "supports", "layer", "scope", "container":
		// Conditional wrappers: assume the condition holds and read through.
		p.parseRules(media, false)
	default:
		// @font-face, @keyframes, @page, @property and friends describe
		// resources, not page styling; their bodies would poison counts.
		p.skipBlock()
	}
}

// readPrelude collects raw text until a block opens or the statement ends.
// The terminator is consumed. Parentheses nest (media conditions, :not()).
func (p *parser) readPrelude() (string, string) {
	var b strings.Builder
	depth := 0
	for {
		t := p.peek()
		switch {
		case done(t):
			if t.Type == scanner.TokenError {
				p.sheet.Truncated = true
			}
			return collapseSpace(b.String()), ""
		case depth == 0 && (isChar(t, "{") || isChar(t, ";")):
			term := t.Value
			p.next()
			return collapseSpace(b.String()), term
		}
		t = p.next()
		switch {
		case t.Type == scanner.TokenFunction || isChar(t, "(") || isChar(t, "["):
			depth++
		case isChar(t, ")") || isChar(t, "]"):
			if depth > 0 {
				depth--
			}
		}
		if t.Type == scanner.TokenS {
			b.WriteByte(' ')
		} else {
			b.WriteString(t.Value)
		}
	}
}

// skipBlock discards a balanced {...} body whose opening brace was consumed.
func (p *parser) skipBlock() {
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case done(t):
			if t.Type == scanner.TokenError {
				p.sheet.Truncated = true
			}
			return
		case isChar(t, "{"):
			depth++
		case isChar(t, "}"):
			depth--
		}
	}
}

func (p *parser) parseStyleRule(media []string) {
	prelude, term := p.readPrelude()
	if term != "{" {
		return // selector fragment with no body
	}

	var selectors []string
	for _, s := range SplitTopLevel(prelude, ',') {
		if s = strings.TrimSpace(s); s != "" {
			selectors = append(selectors, s)
		}
	}

	decls := p.parseDeclarations()
	if len(selectors) == 0 || len(decls) == 0 {
		return
	}
	p.sheet.Rules = append(p.sheet.Rules, Rule{
		Selectors:    selectors,
		Declarations: decls,
		Media:        media,
	})
}

// parseDeclarations reads a declaration block through its closing brace.
func (p *parser) parseDeclarations() []Declaration {
	var decls []Declaration
	for {
		t := p.peek()
		switch {
		case done(t):
			if t.Type == scanner.TokenError {
				p.sheet.Truncated = true
			}
			return decls
		case isChar(t, "}"):
			p.next()
			return decls
		case t.Type == scanner.TokenS || isChar(t, ";"):
			p.next()
			continue
		}

		prop, term := p.readUntil(":")
		if term != ":" {
			// No colon before the declaration ended: malformed.
			if term == "{" {
				p.skipBlock() // nested rule syntax, not a declaration
			} else {
				p.sheet.Invalid++
			}
			if term == "}" {
				return decls
			}
			continue
		}

		value, term := p.readUntil(";")
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)

		important := false
		if stripped, ok := stripImportant(value); ok {
			important = true
			value = stripped
		}

		if prop == "" || value == "" {
			p.sheet.Invalid++
		} else {
			decls = append(decls, Declaration{Property: prop, Value: value, Important: important})
		}
		if term == "}" {
			return decls
		}
	}
}

// readUntil collects raw text until the separator, ';', or '}' at depth
// zero. The terminator is consumed except for '}' when it closes the
// enclosing block; '{' openings are never swallowed here.
func (p *parser) readUntil(sep string) (string, string) {
	var b strings.Builder
	depth := 0
	for {
		t := p.peek()
		switch {
		case done(t):
			if t.Type == scanner.TokenError {
				p.sheet.Truncated = true
			}
			return collapseSpace(b.String()), ""
		case depth == 0 && (isChar(t, sep) || isChar(t, ";") || isChar(t, "}")):
			term := t.Value
			p.next()
			return collapseSpace(b.String()), term
		case depth == 0 && isChar(t, "{"):
			p.next()
			return collapseSpace(b.String()), "{"
		}
		t = p.next()
		switch {
		case t.Type == scanner.TokenFunction || isChar(t, "(") || isChar(t, "["):
			depth++
		case isChar(t, ")") || isChar(t, "]"):
			if depth > 0 {
				depth--
			}
		}
		if t.Type == scanner.TokenS {
			b.WriteByte(' ')
		} else {
			b.WriteString(t.Value)
		}
	}
}

func stripImportant(value string) (string, bool) {
	lower := strings.ToLower(value)
	i := strings.LastIndex(lower, "!")
	if i < 0 {
		return value, false
	}
	if strings.TrimSpace(lower[i+1:]) != "important" {
		return value, false
	}
	return strings.TrimSpace(value[:i]), true
}

// importTarget extracts the URL from an @import prelude: either a quoted
// string or url(...), with optional trailing media.
func importTarget(prelude string) string {
	prelude = strings.TrimSpace(prelude)
	if prelude == "" {
		return ""
	}
	lower := strings.ToLower(prelude)
	if strings.HasPrefix(lower, "url(") {
		end := strings.IndexByte(prelude, ')')
		if end < 0 {
			return ""
		}
		return unquote(strings.TrimSpace(prelude[4:end]))
	}
	if prelude[0] == '"' || prelude[0] == '\'' {
		quote := prelude[0]
		end := strings.IndexByte(prelude[1:], quote)
		if end < 0 {
			return ""
		}
		return prelude[1 : 1+end]
	}
	return ""
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// collapseSpace folds whitespace runs into single spaces.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SplitTopLevel splits on a separator, ignoring separators nested inside
// parentheses, brackets, or quotes. Both the extractor and the layout
// profiler cut value lists with it.
func SplitTopLevel(s string, sep rune) []string {
	var (
		out   []string
		start int
		depth int
		quote rune
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + len(string(r))
		}
	}
	out = append(out, s[start:])
	return out
}
