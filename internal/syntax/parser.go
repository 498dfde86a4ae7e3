package syntax

import (
	"fmt"
	"strconv"
)

// Parser builds a Tree from a token stream. It always produces a
// well-formed tree: source that fails to parse comes out as Error
// nodes plus diagnostics, never as a nil root.
type Parser struct {
	src   string
	toks  []Token
	pos   int
	tab   *PosTable
	syms  *SymbolTable
	diags []Diagnostic
	spans map[Expr]Span

	// synthetic marks the implicit sets produced by desugaring dotted
	// attribute paths, so later bindings with the same prefix merge
	// into them instead of colliding.
	synthetic map[*Attrs]bool
}

// Parse parses one file.
func Parse(src string) *Tree {
	p := &Parser{
		src:       src,
		toks:      NewLexer(src).Lex(),
		tab:       &PosTable{},
		syms:      NewSymbolTable(),
		spans:     make(map[Expr]Span),
		synthetic: make(map[*Attrs]bool),
	}
	root := p.parseExpr()
	if p.cur().Kind != TokEOF {
		p.errorf(p.cur(), "unexpected %s after expression", p.cur().Kind)
		inner := []Expr{root}
		start := p.spanStartOf(root)
		for p.cur().Kind != TokEOF {
			inner = append(inner, p.parseExpr())
		}
		wrap := &Error{P: root.Pos(), Inner: inner}
		p.spans[wrap] = Span{Start: start, End: p.prevEnd()}
		root = wrap
	}
	t := &Tree{
		Root:        root,
		Src:         src,
		Positions:   p.tab,
		Symbols:     p.syms,
		Diagnostics: p.diags,
		spans:       p.spans,
	}
	bindVars(t, p.report)
	// bindVars reports through p.diags; publish what it added.
	t.Diagnostics = p.diags
	return t
}

func (p *Parser) cur() Token { return p.toks[p.pos] }

func (p *Parser) peek(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *Parser) at(k TokenKind) bool { return p.cur().Kind == k }

func (p *Parser) accept(k TokenKind) (Token, bool) {
	if p.at(k) {
		return p.advance(), true
	}
	return Token{}, false
}

func (p *Parser) expect(k TokenKind) Token {
	if p.at(k) {
		return p.advance()
	}
	p.errorf(p.cur(), "expected %s, got %s", k, p.cur().Kind)
	return p.cur()
}

func (p *Parser) prevEnd() uint32 {
	if p.pos == 0 {
		return 0
	}
	return p.toks[p.pos-1].End()
}

func (p *Parser) posOf(t Token) PosIdx {
	return p.tab.Add(Pos{Line: t.Line, Col: t.Col, Offset: t.Offset})
}

func (p *Parser) errorf(t Token, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{
		Span:     Span{Start: t.Offset, End: t.End()},
		Message:  fmt.Sprintf(format, args...),
		Severity: DiagError,
	})
}

// report is the diagnostic sink handed to bindVars.
func (p *Parser) report(e Expr, msg string, sev DiagSeverity) {
	sp := p.spans[e]
	p.diags = append(p.diags, Diagnostic{Span: sp, Message: msg, Severity: sev})
}

func (p *Parser) spanStartOf(e Expr) uint32 {
	if s, ok := p.spans[e]; ok {
		return s.Start
	}
	return 0
}

// finish records the span of a freshly built node.
func (p *Parser) finish(e Expr, start Token) Expr {
	end := p.prevEnd()
	if end < start.Offset {
		end = start.Offset
	}
	p.spans[e] = Span{Start: start.Offset, End: end}
	return e
}

// errorNode makes a recovery node at the current token and consumes it
// so the parse always progresses.
func (p *Parser) errorNode(inner ...Expr) Expr {
	t := p.cur()
	p.errorf(t, "unexpected %s", t.Kind)
	if t.Kind != TokEOF {
		p.advance()
	}
	e := &Error{P: p.posOf(t), Inner: inner}
	p.spans[e] = Span{Start: t.Offset, End: t.End()}
	return e
}

// parseExpr parses at the function level: lambdas, let, if, with,
// assert, then binary operators downward.
func (p *Parser) parseExpr() Expr {
	switch p.cur().Kind {
	case TokKwAssert:
		start := p.advance()
		cond := p.parseExpr()
		p.expect(TokSemi)
		body := p.parseExpr()
		return p.finish(&Assert{P: p.posOf(start), Cond: cond, Body: body}, start)
	case TokKwWith:
		start := p.advance()
		attrs := p.parseExpr()
		p.expect(TokSemi)
		body := p.parseExpr()
		return p.finish(&With{P: p.posOf(start), Attrs: attrs, Body: body}, start)
	case TokKwLet:
		return p.parseLet()
	case TokKwIf:
		start := p.advance()
		cond := p.parseExpr()
		p.expect(TokKwThen)
		then := p.parseExpr()
		p.expect(TokKwElse)
		els := p.parseExpr()
		return p.finish(&If{P: p.posOf(start), Cond: cond, Then: then, Else: els}, start)
	case TokID:
		if p.peek(1).Kind == TokColon {
			start := p.advance() // arg name
			p.advance()          // ':'
			body := p.parseExpr()
			lam := &Lambda{
				P:      p.posOf(start),
				Arg:    p.syms.Intern(start.Text),
				ArgPos: p.posOf(start),
				Body:   body,
			}
			return p.finish(lam, start)
		}
		if p.peek(1).Kind == TokAt && p.peek(2).Kind == TokLBrace {
			start := p.advance() // arg name
			p.advance()          // '@'
			formals := p.parseFormals()
			p.expect(TokColon)
			body := p.parseExpr()
			lam := &Lambda{
				P:       p.posOf(start),
				Arg:     p.syms.Intern(start.Text),
				ArgPos:  p.posOf(start),
				Formals: formals,
				Body:    body,
			}
			return p.finish(lam, start)
		}
	case TokLBrace:
		if p.formalsAhead() {
			start := p.cur()
			formals := p.parseFormals()
			lam := &Lambda{P: p.posOf(start), Formals: formals}
			if _, ok := p.accept(TokAt); ok {
				if name, ok := p.accept(TokID); ok {
					lam.Arg = p.syms.Intern(name.Text)
					lam.ArgPos = p.posOf(name)
				} else {
					p.errorf(p.cur(), "expected argument name after '@', got %s", p.cur().Kind)
				}
			}
			p.expect(TokColon)
			lam.Body = p.parseExpr()
			return p.finish(lam, start)
		}
	}
	return p.parseImpl()
}

// formalsAhead decides whether the '{' at the cursor opens a formals
// pattern rather than an attribute set, by finding the matching brace
// and checking for ':' or '@'. Interpolation openers count as braces
// because their closer lexes as '}'.
func (p *Parser) formalsAhead() bool {
	depth := 0
	for i := p.pos; i < len(p.toks); i++ {
		switch p.toks[i].Kind {
		case TokLBrace, TokInterpStart:
			depth++
		case TokRBrace:
			depth--
			if depth == 0 {
				k := p.peek(i + 1 - p.pos).Kind
				return k == TokColon || k == TokAt
			}
		case TokEOF:
			return false
		}
	}
	return false
}

func (p *Parser) parseFormals() *Formals {
	p.expect(TokLBrace)
	f := &Formals{}
	for !p.at(TokRBrace) && !p.at(TokEOF) {
		if _, ok := p.accept(TokEllipsis); ok {
			f.Ellipsis = true
			p.accept(TokComma)
			continue
		}
		name, ok := p.accept(TokID)
		if !ok {
			p.errorf(p.cur(), "expected formal name, got %s", p.cur().Kind)
			p.advance()
			continue
		}
		formal := Formal{Name: p.syms.Intern(name.Text), NamePos: p.posOf(name)}
		if _, ok := p.accept(TokQuestion); ok {
			formal.Default = p.parseExpr()
		}
		f.Formals = append(f.Formals, formal)
		if _, ok := p.accept(TokComma); !ok {
			break
		}
	}
	p.expect(TokRBrace)
	return f
}

func (p *Parser) parseLet() Expr {
	// The bindings reuse the Attrs shape as a plain container; the Let
	// node itself is what creates the env.
	start := p.advance() // 'let'
	binds := &Attrs{P: p.posOf(start)}
	p.parseBindings(binds, TokKwIn)
	p.spans[binds] = Span{Start: start.Offset, End: p.prevEnd()}
	if len(binds.Dynamic) > 0 {
		p.errorf(start, "dynamic attributes not allowed in let")
	}
	p.expect(TokKwIn)
	body := p.parseExpr()
	return p.finish(&Let{P: p.posOf(start), Bindings: binds, Body: body}, start)
}

// Binary operators, loosest first. Shapes follow the upstream grammar:
// ->, // and ++ associate right, the rest left.

func (p *Parser) parseImpl() Expr {
	start := p.cur()
	l := p.parseOr()
	if op, ok := p.accept(TokImpl); ok {
		r := p.parseImpl()
		return p.finish(&OpBinary{P: p.posOf(op), Op: OpImpl, L: l, R: r}, start)
	}
	return l
}

func (p *Parser) parseOr() Expr {
	start := p.cur()
	l := p.parseAnd()
	for {
		op, ok := p.accept(TokOr)
		if !ok {
			return l
		}
		r := p.parseAnd()
		l = p.finish(&OpBinary{P: p.posOf(op), Op: OpOr, L: l, R: r}, start)
	}
}

func (p *Parser) parseAnd() Expr {
	start := p.cur()
	l := p.parseEq()
	for {
		op, ok := p.accept(TokAnd)
		if !ok {
			return l
		}
		r := p.parseEq()
		l = p.finish(&OpBinary{P: p.posOf(op), Op: OpAnd, L: l, R: r}, start)
	}
}

func (p *Parser) parseEq() Expr {
	start := p.cur()
	l := p.parseCmp()
	for {
		var op Op
		switch p.cur().Kind {
		case TokEq:
			op = OpEq
		case TokNEq:
			op = OpNEq
		default:
			return l
		}
		t := p.advance()
		r := p.parseCmp()
		l = p.finish(&OpBinary{P: p.posOf(t), Op: op, L: l, R: r}, start)
	}
}

func (p *Parser) parseCmp() Expr {
	start := p.cur()
	l := p.parseUpdate()
	for {
		var op Op
		switch p.cur().Kind {
		case TokLt:
			op = OpLt
		case TokGt:
			op = OpGt
		case TokLEq:
			op = OpLEq
		case TokGEq:
			op = OpGEq
		default:
			return l
		}
		t := p.advance()
		r := p.parseUpdate()
		l = p.finish(&OpBinary{P: p.posOf(t), Op: op, L: l, R: r}, start)
	}
}

func (p *Parser) parseUpdate() Expr {
	start := p.cur()
	l := p.parseNot()
	if op, ok := p.accept(TokUpdate); ok {
		r := p.parseUpdate()
		return p.finish(&OpBinary{P: p.posOf(op), Op: OpUpdate, L: l, R: r}, start)
	}
	return l
}

func (p *Parser) parseNot() Expr {
	if op, ok := p.accept(TokNot); ok {
		e := p.parseNot()
		n := &OpNot{P: p.posOf(op), E: e}
		p.spans[n] = Span{Start: op.Offset, End: p.prevEnd()}
		return n
	}
	return p.parseAdd()
}

func (p *Parser) parseAdd() Expr {
	start := p.cur()
	l := p.parseMul()
	for {
		var op Op
		switch p.cur().Kind {
		case TokPlus:
			op = OpAdd
		case TokMinus:
			op = OpSub
		default:
			return l
		}
		t := p.advance()
		r := p.parseMul()
		l = p.finish(&OpBinary{P: p.posOf(t), Op: op, L: l, R: r}, start)
	}
}

func (p *Parser) parseMul() Expr {
	start := p.cur()
	l := p.parseConcat()
	for {
		var op Op
		switch p.cur().Kind {
		case TokMul:
			op = OpMul
		case TokDiv:
			op = OpDiv
		default:
			return l
		}
		t := p.advance()
		r := p.parseConcat()
		l = p.finish(&OpBinary{P: p.posOf(t), Op: op, L: l, R: r}, start)
	}
}

func (p *Parser) parseConcat() Expr {
	start := p.cur()
	l := p.parseHasAttr()
	if op, ok := p.accept(TokConcat); ok {
		r := p.parseConcat()
		return p.finish(&OpBinary{P: p.posOf(op), Op: OpConcatLists, L: l, R: r}, start)
	}
	return l
}

func (p *Parser) parseHasAttr() Expr {
	start := p.cur()
	l := p.parseUnary()
	if op, ok := p.accept(TokQuestion); ok {
		path := p.parseAttrPath()
		return p.finish(&HasAttr{P: p.posOf(op), E: l, Path: path}, start)
	}
	return l
}

func (p *Parser) parseUnary() Expr {
	if op, ok := p.accept(TokMinus); ok {
		e := p.parseUnary()
		n := &OpNeg{P: p.posOf(op), E: e}
		p.spans[n] = Span{Start: op.Offset, End: p.prevEnd()}
		return n
	}
	return p.parseApp()
}

func (p *Parser) parseApp() Expr {
	start := p.cur()
	f := p.parseSelect()
	for p.startsSimple() {
		arg := p.parseSelect()
		f = p.finish(&Apply{P: p.posOf(start), Fn: f, Arg: arg}, start)
	}
	return f
}

func (p *Parser) startsSimple() bool {
	switch p.cur().Kind {
	case TokID, TokInt, TokFloat, TokStringStart, TokPath, TokSPath,
		TokLParen, TokLBrace, TokLBracket, TokKwRec:
		return true
	}
	return false
}

func (p *Parser) parseSelect() Expr {
	start := p.cur()
	e := p.parseSimple()
	if _, ok := p.accept(TokDot); !ok {
		return e
	}
	dot := p.toks[p.pos-1]
	path := p.parseAttrPath()
	sel := &Select{P: p.posOf(dot), E: e, Path: path}
	if p.at(TokKwOr) {
		p.advance()
		sel.Default = p.parseSelect()
	}
	return p.finish(sel, start)
}

// parseAttrPath parses dot-separated attribute path components. Static
// components are identifiers or plain string literals; interpolations
// and interpolated strings are dynamic.
func (p *Parser) parseAttrPath() []AttrName {
	var path []AttrName
	for {
		switch p.cur().Kind {
		case TokID, TokKwOr:
			t := p.advance()
			path = append(path, AttrName{Sym: p.syms.Intern(t.Text), P: p.posOf(t)})
		case TokStringStart:
			t := p.cur()
			s := p.parseString()
			str := s.(*Str)
			if sym, ok := literalName(str); ok {
				path = append(path, AttrName{Sym: p.syms.Intern(sym), P: p.posOf(t)})
			} else {
				path = append(path, AttrName{P: p.posOf(t), Expr: s})
			}
		case TokInterpStart:
			t := p.advance()
			e := p.parseExpr()
			p.expect(TokRBrace)
			path = append(path, AttrName{P: p.posOf(t), Expr: e})
		default:
			p.errorf(p.cur(), "expected attribute name, got %s", p.cur().Kind)
			return path
		}
		if _, ok := p.accept(TokDot); !ok {
			return path
		}
	}
}

func literalName(s *Str) (string, bool) {
	if len(s.Parts) == 0 {
		return "", true
	}
	if len(s.Parts) == 1 && s.Parts[0].Interp == nil {
		return s.Parts[0].Text, true
	}
	return "", false
}

func (p *Parser) parseSimple() Expr {
	start := p.cur()
	switch start.Kind {
	case TokInt:
		p.advance()
		v, err := strconv.ParseInt(start.Text, 10, 64)
		if err != nil {
			p.errorf(start, "invalid integer literal %q", start.Text)
		}
		return p.finish(&Int{P: p.posOf(start), Value: v}, start)
	case TokFloat:
		p.advance()
		v, err := strconv.ParseFloat(start.Text, 64)
		if err != nil {
			p.errorf(start, "invalid float literal %q", start.Text)
		}
		return p.finish(&Float{P: p.posOf(start), Value: v}, start)
	case TokStringStart:
		return p.parseString()
	case TokPath:
		p.advance()
		return p.finish(&Path{P: p.posOf(start), Value: start.Text}, start)
	case TokSPath:
		p.advance()
		return p.finish(&Path{
			P:      p.posOf(start),
			Value:  start.Text[1 : len(start.Text)-1],
			Search: true,
		}, start)
	case TokID:
		p.advance()
		return p.finish(&Var{P: p.posOf(start), Name: p.syms.Intern(start.Text)}, start)
	case TokLParen:
		p.advance()
		e := p.parseExpr()
		p.expect(TokRParen)
		// Keep the inner node's identity; the span widens to the parens.
		if s, ok := p.spans[e]; ok {
			s.Start = start.Offset
			s.End = p.prevEnd()
			p.spans[e] = s
		}
		return e
	case TokLBracket:
		p.advance()
		list := &List{P: p.posOf(start)}
		for p.startsSimple() {
			list.Items = append(list.Items, p.parseSelect())
		}
		p.expect(TokRBracket)
		return p.finish(list, start)
	case TokKwRec:
		p.advance()
		open := p.expect(TokLBrace)
		if open.Kind == TokLBrace {
			return p.parseAttrs(start, true)
		}
		return p.errorNode()
	case TokLBrace:
		p.advance()
		return p.parseAttrs(start, false)
	}
	return p.errorNode()
}

// parseAttrs parses the bindings of an attribute set whose opening
// brace is already consumed.
func (p *Parser) parseAttrs(start Token, recursive bool) Expr {
	attrs := &Attrs{P: p.posOf(start), Recursive: recursive}
	p.parseBindings(attrs, TokRBrace)
	p.expect(TokRBrace)
	return p.finish(attrs, start)
}

// parseBindings fills an Attrs with "name = value;" and inherit
// bindings until the until-token or EOF. Recovery skips to the next
// ';' so one bad binding does not take out the rest.
func (p *Parser) parseBindings(attrs *Attrs, until TokenKind) {
	for !p.at(until) && !p.at(TokEOF) {
		if p.at(TokKwInherit) {
			p.parseInherit(attrs)
			continue
		}
		if !p.bindingAhead() {
			p.errorf(p.cur(), "expected binding, got %s", p.cur().Kind)
			p.syncBinding(until)
			continue
		}
		p.parseBinding(attrs)
	}
}

func (p *Parser) bindingAhead() bool {
	switch p.cur().Kind {
	case TokID, TokKwOr, TokStringStart, TokInterpStart:
		return true
	}
	return false
}

func (p *Parser) syncBinding(until TokenKind) {
	for !p.at(until) && !p.at(TokEOF) {
		if _, ok := p.accept(TokSemi); ok {
			return
		}
		p.advance()
	}
}

func (p *Parser) parseBinding(attrs *Attrs) {
	path := p.parseAttrPath()
	p.expect(TokAssign)
	value := p.parseExpr()
	p.expect(TokSemi)
	if len(path) == 0 {
		return
	}
	p.addBinding(attrs, path, value)
}

// addBinding desugars "a.b.c = v" into nested attribute sets. Only the
// outermost name becomes a slot of this set; nested components live in
// implicit non-recursive sets. Bindings sharing a path prefix merge
// into the implicit set the first one introduced ("a.b = 1; a.c = 2;"),
// and only leaf collisions — or a clash with an explicitly declared
// attribute — are duplicates.
func (p *Parser) addBinding(attrs *Attrs, path []AttrName, value Expr) {
	head := path[0]
	rest := path[1:]

	if head.Dynamic() {
		if len(rest) > 0 {
			value = p.nestedSet(rest, value)
		}
		attrs.Dynamic = append(attrs.Dynamic, DynamicAttr{NameExpr: head.Expr, Value: value})
		return
	}

	for i := range attrs.Attrs {
		a := &attrs.Attrs[i]
		if a.Name != head.Sym {
			continue
		}
		if nested, ok := a.Value.(*Attrs); ok && p.synthetic[nested] && len(rest) > 0 {
			p.addBinding(nested, rest, value)
			p.widenSpan(nested, value)
			return
		}
		p.diags = append(p.diags, Diagnostic{
			Span:     p.spanAtPos(head.P),
			Message:  fmt.Sprintf("duplicate attribute %q", p.syms.Name(head.Sym)),
			Severity: DiagError,
		})
		return
	}

	if len(rest) > 0 {
		value = p.nestedSet(rest, value)
	}
	attrs.Attrs = append(attrs.Attrs, Attr{Name: head.Sym, NamePos: head.P, Value: value})
}

// nestedSet builds the implicit set holding the remainder of a dotted
// binding path.
func (p *Parser) nestedSet(path []AttrName, value Expr) *Attrs {
	nested := &Attrs{P: path[0].P}
	p.synthetic[nested] = true
	p.spans[nested] = p.spans[value]
	p.addBinding(nested, path, value)
	return nested
}

// widenSpan grows an implicit set's span to cover a binding merged
// into it later in the source.
func (p *Parser) widenSpan(attrs *Attrs, value Expr) {
	sp, ok := p.spans[attrs]
	vsp, vok := p.spans[value]
	if !ok || !vok {
		return
	}
	if vsp.Start < sp.Start {
		sp.Start = vsp.Start
	}
	if vsp.End > sp.End {
		sp.End = vsp.End
	}
	p.spans[attrs] = sp
}

func (p *Parser) spanAtPos(idx PosIdx) Span {
	pos := p.tab.Resolve(idx)
	return Span{Start: pos.Offset, End: pos.Offset + 1}
}

// parseInherit parses "inherit a b;" and "inherit (e) a b;". Plain
// inherited names become variable references resolved in the outer
// env; parenthesized ones become selections from the source set.
func (p *Parser) parseInherit(attrs *Attrs) {
	p.advance() // 'inherit'
	var from Expr
	if _, ok := p.accept(TokLParen); ok {
		from = p.parseExpr()
		p.expect(TokRParen)
	}
	for p.at(TokID) || p.at(TokKwOr) {
		name := p.advance()
		sym := p.syms.Intern(name.Text)
		namePos := p.posOf(name)
		var value Expr
		if from != nil {
			value = &Select{P: namePos, E: from, Path: []AttrName{{Sym: sym, P: namePos}}}
		} else {
			value = &Var{P: namePos, Name: sym}
		}
		p.spans[value] = Span{Start: name.Offset, End: name.End()}
		attrs.Attrs = append(attrs.Attrs, Attr{
			Name:      sym,
			NamePos:   namePos,
			Value:     value,
			Inherited: from == nil,
		})
	}
	p.expect(TokSemi)
}

// parseString parses a (possibly interpolated) string literal whose
// start token is at the cursor.
func (p *Parser) parseString() Expr {
	start := p.expect(TokStringStart)
	s := &Str{P: p.posOf(start)}
	for {
		switch p.cur().Kind {
		case TokStringChunk:
			t := p.advance()
			if t.Text != "" {
				s.Parts = append(s.Parts, StrPart{Text: t.Text})
			}
		case TokInterpStart:
			p.advance()
			e := p.parseExpr()
			p.expect(TokRBrace)
			s.Parts = append(s.Parts, StrPart{Interp: e})
		case TokStringEnd:
			p.advance()
			return p.finish(s, start)
		default:
			p.errorf(p.cur(), "unterminated string")
			return p.finish(s, start)
		}
	}
}
