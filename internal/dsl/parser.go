package dsl

import (
	"strconv"
	"strings"

	"github.com/kluzzebass/treeserve/internal/variant"
)

// Compile compiles src (one "unquoted-text" production, §4.6) into ex,
// appending bytecode and literals, and returns the instruction index a
// View can use as this string's entry point. On failure ex is left exactly
// as it was: any literals or instructions appended during the failed
// attempt are rolled back (§4.6 "Parser invariants"), and the returned
// error reports the furthest byte position the parser reached.
func (ex *Executable) Compile(src string) (int, error) {
	p := &parser{src: src, ex: ex}
	startCmds := len(ex.Cmds)
	startLits := ex.Lits.Len()

	n, err := p.parseUnquotedText()
	if err != nil {
		ex.Cmds = ex.Cmds[:startCmds]
		ex.Lits.Truncate(startLits)
		return 0, newParseError(p.maxPos, err, "%s", err.Error())
	}

	entry := startCmds
	switch {
	case n == 0:
		idx := ex.Lits.AddString("")
		p.emit(Cmd{Op: OpLiteral, Param: idx})
	case n > 1:
		p.emit(Cmd{Op: OpConcat, Param: n})
	}
	p.emit(Cmd{Op: OpDone})
	return entry, nil
}

type parser struct {
	src    string
	pos    int
	maxPos int
	ex     *Executable
}

func (p *parser) emit(c Cmd) { p.ex.Cmds = append(p.ex.Cmds, c) }

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(off int) byte {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *parser) advance() byte {
	c := p.src[p.pos]
	p.pos++
	if p.pos > p.maxPos {
		p.maxPos = p.pos
	}
	return c
}

func (p *parser) skipWS() {
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.advance()
		default:
			return
		}
	}
}

func (p *parser) expect(c byte) error {
	if p.eof() || p.peek() != c {
		return newParseError(p.maxPos, ErrUnexpectedEOF, "expected %q", c)
	}
	p.advance()
	return nil
}

// --- top-level: unquoted-text = (literal-text? evalroot)... literal-text? ---

func (p *parser) parseUnquotedText() (int, error) {
	n := 0
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			idx := p.ex.Lits.AddString(text.String())
			p.emit(Cmd{Op: OpLiteral, Param: idx})
			n++
			text.Reset()
		}
	}
	for !p.eof() {
		switch p.peek() {
		case '$':
			flush()
			if err := p.parseEvalRoot(); err != nil {
				return n, err
			}
			n++
		case ';':
			p.advance()
			if p.eof() {
				return n, newParseError(p.maxPos, ErrUnexpectedEOF, "dangling escape character")
			}
			text.WriteByte(p.advance())
		default:
			text.WriteByte(p.advance())
		}
	}
	flush()
	return n, nil
}

// evalroot = "$"<ident> | "$"<ident>"(" args ")" | "${" expr "}"
func (p *parser) parseEvalRoot() error {
	p.advance() // '$'
	if p.peek() == '{' {
		p.advance()
		if err := p.parseExpr(); err != nil {
			return err
		}
		p.skipWS()
		if err := p.expect('}'); err != nil {
			return newParseError(p.maxPos, ErrUnterminatedEval, "unterminated ${...}")
		}
		return nil
	}

	ident, ok := p.tryParseIdent()
	if !ok {
		return newParseError(p.maxPos, ErrExpectedIdent, "expected identifier after $")
	}
	if p.peek() == '(' {
		p.advance()
		argc, err := p.parseArgList(')')
		if err != nil {
			return err
		}
		nameIdx := p.ex.Lits.AddString(ident)
		p.emit(Cmd{Op: OpCallFn, Param: argc, Param2: nameIdx})
		return nil
	}
	nameIdx := p.ex.Lits.AddString(ident)
	p.emit(Cmd{Op: OpGetVar, Param: nameIdx})
	return nil
}

// expr = eval modlist
func (p *parser) parseExpr() error {
	if err := p.parseEval(); err != nil {
		return err
	}
	for {
		consumed, err := p.parseMod()
		if err != nil {
			return err
		}
		if !consumed {
			return nil
		}
	}
}

// eval = literal | fncall | varref | "." | "~"
func (p *parser) parseEval() error {
	p.skipWS()
	if p.eof() {
		return newParseError(p.maxPos, ErrUnexpectedEOF, "expected a value")
	}
	switch c := p.peek(); {
	case c == '.':
		p.advance()
		p.emit(Cmd{Op: OpDup, Param: 0})
		return nil
	case c == '~':
		p.advance()
		p.emit(Cmd{Op: OpPushRoot})
		return nil
	case c == '$':
		p.advance()
		ident, ok := p.tryParseIdent()
		if !ok {
			return newParseError(p.maxPos, ErrExpectedIdent, "expected identifier after $")
		}
		if p.peek() == '(' {
			p.advance()
			argc, err := p.parseArgList(')')
			if err != nil {
				return err
			}
			nameIdx := p.ex.Lits.AddString(ident)
			p.emit(Cmd{Op: OpCallFn, Param: argc, Param2: nameIdx})
			return nil
		}
		nameIdx := p.ex.Lits.AddString(ident)
		p.emit(Cmd{Op: OpGetVar, Param: nameIdx})
		return nil
	case c == '\'' || c == '"':
		s, err := p.parseQuotedString(c)
		if err != nil {
			return err
		}
		idx := p.ex.Lits.AddString(s)
		p.emit(Cmd{Op: OpLiteral, Param: idx})
		return nil
	case isDigit(c) || (c == '-' && isDigit(p.peekAt(1))):
		v, err := p.parseNumber()
		if err != nil {
			return err
		}
		idx := p.ex.Lits.Add(v)
		p.emit(Cmd{Op: OpLiteral, Param: idx})
		return nil
	default:
		if p.consumeKeyword("true") {
			idx := p.ex.Lits.Add(variant.NewBool(true))
			p.emit(Cmd{Op: OpLiteral, Param: idx})
			return nil
		}
		if p.consumeKeyword("false") {
			idx := p.ex.Lits.Add(variant.NewBool(false))
			p.emit(Cmd{Op: OpLiteral, Param: idx})
			return nil
		}
		if p.consumeKeyword("null") {
			idx := p.ex.Lits.Add(variant.NewNull())
			p.emit(Cmd{Op: OpLiteral, Param: idx})
			return nil
		}
		ident, ok := p.tryParseIdent()
		if !ok || p.peek() != '(' {
			return newParseError(p.maxPos, ErrUnexpectedChar, "expected literal, fncall, varref, '.' or '~'")
		}
		p.advance() // '('
		argc, err := p.parseArgList(')')
		if err != nil {
			return err
		}
		nameIdx := p.ex.Lits.AddString(ident)
		p.emit(Cmd{Op: OpCallFn, Param: argc, Param2: nameIdx})
		return nil
	}
}

func (p *parser) parseArgList(closeCh byte) (int, error) {
	p.skipWS()
	count := 0
	if p.peek() == closeCh {
		p.advance()
		return 0, nil
	}
	for {
		if err := p.parseExpr(); err != nil {
			return count, err
		}
		count++
		p.skipWS()
		switch p.peek() {
		case ',':
			p.advance()
			continue
		case closeCh:
			p.advance()
			return count, nil
		default:
			return count, newParseError(p.maxPos, ErrUnterminatedArgs, "expected ',' or %q in argument list", closeCh)
		}
	}
}

// modlist = mod*; mod = selector | transform | lookup
func (p *parser) parseMod() (bool, error) {
	p.skipWS()
	switch p.peek() {
	case '[':
		return true, p.parseSelector()
	case '|':
		return true, p.parseTransform()
	case '/':
		return true, p.parseLookup()
	default:
		return false, nil
	}
}

// selector = "[" selection "]"
// selection = keycmp | keysel | "*" | range | expr
func (p *parser) parseSelector() error {
	p.advance() // '['
	p.skipWS()
	if p.peek() == ']' {
		return newParseError(p.maxPos, ErrUnterminatedSel, "empty selector")
	}
	if p.peek() == '*' {
		p.advance()
		p.skipWS()
		return p.expect(']')
	}
	if op, ok := p.tryKeySelKeyword(); ok {
		if err := p.parseKeySel(op); err != nil {
			return err
		}
		p.skipWS()
		return p.expect(']')
	}

	save := p.pos
	if spans, ok := p.tryParseRange(); ok {
		idx := p.ex.Lits.Add(variant.NewRange(spans))
		p.emit(Cmd{Op: OpSelectLit, Param: idx})
		p.skipWS()
		return p.expect(']')
	}
	p.pos = save

	if key, ok := p.tryParseIdStr(); ok {
		save2 := p.pos
		p.skipWS()
		if op, invert, ok := p.tryParseBinOp(); ok {
			p.skipWS()
			litStart := len(p.ex.Cmds)
			if err := p.parseExpr(); err != nil {
				return err
			}
			keyIdx := p.ex.Lits.AddString(key)
			if len(p.ex.Cmds) == litStart+1 && p.ex.Cmds[litStart].Op == OpLiteral {
				valIdx := p.ex.Cmds[litStart].Param
				p.ex.Cmds = p.ex.Cmds[:litStart]
				p.emit(Cmd{Op: OpCheckKey, Invert: invert, Op2: op, Param: keyIdx, Param2: valIdx})
			} else {
				p.emit(Cmd{Op: OpFilterKey, Invert: invert, Op2: op, Param: keyIdx, Sel: SelObjectFlat})
			}
			p.skipWS()
			return p.expect(']')
		}
		p.pos = save2
	}
	p.pos = save

	if err := p.parseExpr(); err != nil {
		return err
	}
	p.emit(Cmd{Op: OpSelectV})
	p.skipWS()
	return p.expect(']')
}

var keySelKeywords = []struct {
	kw string
	op KeySelOp
}{
	{"keep", KeySelKeep},
	{"drop", KeySelDrop},
	{"key", KeySelKey},
}

func (p *parser) tryKeySelKeyword() (KeySelOp, bool) {
	for _, e := range keySelKeywords {
		save := p.pos
		if p.consumeKeyword(e.kw) && (p.peek() == ' ' || p.peek() == '\t') {
			return e.op, true
		}
		p.pos = save
	}
	return 0, false
}

func (p *parser) parseKeySel(op KeySelOp) error {
	renameMap := variant.NewMap(0)
	mp := p.ex.Lits.Pool()
	for {
		p.skipWS()
		key, ok := p.tryParseIdStr()
		if !ok {
			return newParseError(p.maxPos, ErrExpectedIdent, "expected a key name in keysel")
		}
		val := key
		p.skipWS()
		if p.peek() == '=' {
			p.advance()
			p.skipWS()
			v2, ok := p.tryParseIdStr()
			if !ok {
				return newParseError(p.maxPos, ErrExpectedIdent, "expected rename target after '='")
			}
			val = v2
		}
		renameMap.MapData().Put(mp, mp.Intern(key), variant.NewString(mp, val))
		p.skipWS()
		if p.peek() == ',' {
			p.advance()
			continue
		}
		break
	}
	idx := p.ex.Lits.Add(renameMap)
	p.emit(Cmd{Op: OpKeySel, Param: int(op), Param2: idx})
	return nil
}

// transform = "|" <ident> | "|" fncall (prior value becomes arg 1)
func (p *parser) parseTransform() error {
	p.advance() // '|'
	p.skipWS()
	ident, ok := p.tryParseIdent()
	if !ok {
		return newParseError(p.maxPos, ErrExpectedIdent, "expected function name after '|'")
	}
	p.skipWS()
	argc := 1
	if p.peek() == '(' {
		p.advance()
		p.skipWS()
		if p.peek() != ')' {
			for {
				if err := p.parseExpr(); err != nil {
					return err
				}
				argc++
				p.skipWS()
				if p.peek() == ',' {
					p.advance()
					continue
				}
				break
			}
		}
		if err := p.expect(')'); err != nil {
			return newParseError(p.maxPos, ErrUnterminatedArgs, "unterminated transform argument list")
		}
	}
	nameIdx := p.ex.Lits.AddString(ident)
	p.emit(Cmd{Op: OpCallFn, Param: argc, Param2: nameIdx})
	return nil
}

// lookup = "/" <idstr>
func (p *parser) parseLookup() error {
	p.advance() // '/'
	key, ok := p.tryParseIdStr()
	if !ok {
		return newParseError(p.maxPos, ErrExpectedIdent, "expected a key name after '/'")
	}
	idx := p.ex.Lits.AddString(key)
	p.emit(Cmd{Op: OpLookup, Param: idx})
	return nil
}

// --- lexical helpers ---

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }

func (p *parser) tryParseIdent() (string, bool) {
	if p.eof() || !isIdentStart(p.peek()) {
		return "", false
	}
	start := p.pos
	for !p.eof() && isIdentCont(p.peek()) {
		p.advance()
	}
	return p.src[start:p.pos], true
}

func (p *parser) consumeKeyword(kw string) bool {
	if strings.HasPrefix(p.src[p.pos:], kw) {
		after := p.pos + len(kw)
		if after >= len(p.src) || !isIdentCont(p.src[after]) {
			p.pos = after
			if p.pos > p.maxPos {
				p.maxPos = p.pos
			}
			return true
		}
	}
	return false
}

// idstr is a bareword key name (identifier-like, also allowing '.', '-') or
// a quoted string.
func (p *parser) tryParseIdStr() (string, bool) {
	if p.eof() {
		return "", false
	}
	if p.peek() == '\'' || p.peek() == '"' {
		s, err := p.parseQuotedString(p.peek())
		if err != nil {
			return "", false
		}
		return s, true
	}
	if !isIdentStart(p.peek()) {
		return "", false
	}
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if isIdentCont(c) || c == '.' || c == '-' {
			p.advance()
			continue
		}
		break
	}
	return p.src[start:p.pos], true
}

func (p *parser) parseQuotedString(quote byte) (string, error) {
	p.advance() // opening quote
	var b strings.Builder
	for {
		if p.eof() {
			return "", newParseError(p.maxPos, ErrUnterminatedString, "unterminated string literal")
		}
		c := p.advance()
		if c == ';' {
			if p.eof() {
				return "", newParseError(p.maxPos, ErrUnterminatedString, "dangling escape in string literal")
			}
			b.WriteByte(p.advance())
			continue
		}
		if c == quote {
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

func (p *parser) parseNumber() (variant.V, error) {
	start := p.pos
	if p.peek() == '-' {
		p.advance()
	}
	for !p.eof() && isDigit(p.peek()) {
		p.advance()
	}
	isFloat := false
	if p.peek() == '.' && isDigit(p.peekAt(1)) {
		isFloat = true
		p.advance()
		for !p.eof() && isDigit(p.peek()) {
			p.advance()
		}
	}
	if p.peek() == 'e' || p.peek() == 'E' {
		save := p.pos
		p.advance()
		if p.peek() == '+' || p.peek() == '-' {
			p.advance()
		}
		if isDigit(p.peek()) {
			isFloat = true
			for !p.eof() && isDigit(p.peek()) {
				p.advance()
			}
		} else {
			p.pos = save
		}
	}
	text := p.src[start:p.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return variant.V{}, newParseError(p.maxPos, ErrBadNumber, "malformed float literal %q", text)
		}
		v, err := variant.NewFloat(f)
		if err != nil {
			return variant.V{}, newParseError(p.maxPos, ErrBadNumber, "NaN float literal %q", text)
		}
		return v, nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return variant.V{}, newParseError(p.maxPos, ErrBadNumber, "malformed integer literal %q", text)
	}
	return variant.NewInt(i), nil
}

func (p *parser) tryParseBinOp() (BinOp, bool, bool) {
	two := ""
	if p.pos+1 < len(p.src) {
		two = p.src[p.pos : p.pos+2]
	}
	switch two {
	case "==":
		p.pos += 2
		return BinEq, false, true
	case "<>":
		p.pos += 2
		return BinNe, false, true
	case "!=":
		p.pos += 2
		return BinNe, false, true
	case "<=":
		p.pos += 2
		return BinLe, false, true
	case ">=":
		p.pos += 2
		return BinGe, false, true
	case "??":
		p.pos += 2
		return BinExists, false, true
	case "?<":
		p.pos += 2
		return BinLtExist, false, true
	case "?>":
		p.pos += 2
		return BinGtExist, false, true
	}
	switch p.peek() {
	case '=':
		p.advance()
		return BinEq, false, true
	case '<':
		p.advance()
		return BinLt, false, true
	case '>':
		p.advance()
		return BinGt, false, true
	}
	return 0, false, false
}

// tryParseRange parses a comma-separated list of <uint> | <uint>:<uint> |
// :<uint> | <uint>: entries, succeeding only if the list is immediately
// followed (modulo whitespace) by ']' — disambiguating it from a keycmp or
// dynamic-expr selection, which the caller falls back to on failure.
func (p *parser) tryParseRange() ([]variant.Span, bool) {
	var spans []variant.Span
	for {
		p.skipWS()
		var first, last int64
		hasFirst := false
		if isDigit(p.peek()) {
			v, ok := p.tryUint()
			if !ok {
				return nil, false
			}
			first, hasFirst = v, true
		}
		p.skipWS()
		if p.peek() == ':' {
			p.advance()
			p.skipWS()
			if isDigit(p.peek()) {
				v, ok := p.tryUint()
				if !ok {
					return nil, false
				}
				last = v
			} else {
				last = int64(^uint64(0) >> 1)
			}
			if !hasFirst {
				first = 0
			}
		} else {
			if !hasFirst {
				return nil, false
			}
			last = first
		}
		spans = append(spans, variant.Span{First: first, Last: last})
		p.skipWS()
		if p.peek() == ',' {
			p.advance()
			continue
		}
		break
	}
	p.skipWS()
	if len(spans) == 0 || p.peek() != ']' {
		return nil, false
	}
	return spans, true
}

func (p *parser) tryUint() (int64, bool) {
	if !isDigit(p.peek()) {
		return 0, false
	}
	start := p.pos
	for !p.eof() && isDigit(p.peek()) {
		p.advance()
	}
	v, err := strconv.ParseInt(p.src[start:p.pos], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
