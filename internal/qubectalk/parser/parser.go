// Package parser turns a token stream from the lexer into an *ast.Program.
//
// The concrete surface grammar reconstructs block structure from the
// keyword set in the language reference (`start`/`end`-delimited stanzas,
// `define`/`uses`/`modify` block openers) rather than the illustrative
// brace-style examples in the reference, which only sketch semantics. See
// DESIGN.md for the reconstruction rationale. Parsing never aborts on the
// first bad token: each top-level construct resynchronizes to the next
// recognizable keyword so a single typo doesn't swallow the rest of the
// diagnostics.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/qubectalk/internal/qubectalk/ast"
	"github.com/example/qubectalk/internal/qubectalk/lexer"
)

// SyntaxError is one parser diagnostic.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

// Parser consumes a fixed token slice and accumulates diagnostics.
type Parser struct {
	toks   []lexer.Token
	pos    int
	errors []SyntaxError
}

// Parse tokenizes and parses source, returning the AST (always non-nil,
// possibly partial) and any diagnostics collected along the way. A non-empty
// error slice means the caller must not execute the program.
func Parse(source string) (*ast.Program, []SyntaxError) {
	if strings.TrimSpace(source) == "" {
		return &ast.Program{Default: &ast.Stanza{Name: "default"}}, nil
	}
	p := &Parser{toks: lexer.Tokens(source)}
	prog := p.parseProgram()
	return prog, p.errors
}

// --- token helpers -----------------------------------------------------

func (p *Parser) cur() lexer.Token {
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) at(offset int) lexer.Token {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[idx]
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) atEOF() bool { return p.cur().Kind == lexer.EOF }

func (p *Parser) isKeyword(word string) bool {
	t := p.cur()
	return t.Kind == lexer.Keyword && t.Literal == word
}

func (p *Parser) isIdentWord(word string) bool {
	t := p.cur()
	return (t.Kind == lexer.Identifier || t.Kind == lexer.Keyword) && strings.EqualFold(t.Literal, word)
}

func (p *Parser) expectKeyword(word string) bool {
	if p.isKeyword(word) {
		p.advance()
		return true
	}
	p.errorf("expected %q, got %q", word, p.cur().Text)
	return false
}

func (p *Parser) expectString() (string, bool) {
	if p.cur().Kind == lexer.String {
		t := p.advance()
		return t.Literal, true
	}
	p.errorf("expected string literal, got %q", p.cur().Text)
	return "", false
}

func (p *Parser) errorf(format string, args ...any) {
	t := p.cur()
	p.errors = append(p.errors, SyntaxError{Line: t.Line, Column: t.Column, Message: fmt.Sprintf(format, args...)})
}

// resync skips tokens until a plausible new statement/stanza boundary so a
// single malformed construct doesn't cascade into spurious errors.
func (p *Parser) resync() {
	for !p.atEOF() {
		if p.cur().Kind == lexer.Keyword {
			switch p.cur().Literal {
			case "end", "set", "change", "cap", "floor", "recharge", "retire",
				"recover", "replace", "define", "uses", "modify", "equals",
				"start", "simulate":
				return
			}
		}
		p.advance()
	}
}

// --- program / stanza structure ----------------------------------------

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{Default: &ast.Stanza{Name: "default"}}
	for !p.atEOF() {
		if !p.isKeyword("start") {
			p.errorf("expected stanza start, got %q", p.cur().Text)
			p.resync()
			continue
		}
		p.advance()
		switch {
		case p.isKeyword("about"):
			p.advance()
			p.skipUntilEnd("about")
		case p.isKeyword("default"):
			p.advance()
			prog.Default = p.parseStanzaBody("default", "define")
			p.expectEnd("default")
		case p.isKeyword("policy"):
			p.advance()
			name, _ := p.expectString()
			st := p.parseStanzaBody(name, "modify")
			prog.Policies = append(prog.Policies, st)
			p.expectEnd("policy")
		case p.isKeyword("simulations"):
			p.advance()
			prog.Simulations = append(prog.Simulations, p.parseSimulations()...)
			p.expectEnd("simulations")
		default:
			p.errorf("unknown stanza %q", p.cur().Text)
			p.resync()
		}
	}
	return prog
}

func (p *Parser) skipUntilEnd(kind string) {
	depth := 1
	for !p.atEOF() && depth > 0 {
		if p.isKeyword("start") {
			depth++
		} else if p.isKeyword("end") {
			depth--
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) expectEnd(kind string) {
	if p.isKeyword("end") {
		p.advance()
		if p.isIdentWord(kind) {
			p.advance() // optional kind word, as in "end substance"
		}
		return
	}
	p.errorf("expected end of %s stanza", kind)
}

// parseStanzaBody parses the application/substance blocks inside a
// default or policy stanza. opener is "define" for default, "modify" for
// policy.
func (p *Parser) parseStanzaBody(name, opener string) *ast.Stanza {
	st := &ast.Stanza{Name: name}
	for !p.atEOF() && !p.isKeyword("end") {
		if !p.isKeyword(opener) && !p.isKeyword("define") && !p.isKeyword("modify") {
			p.errorf("expected %q application block", opener)
			p.resync()
			continue
		}
		p.advance()
		if !p.expectKeyword("application") {
			p.resync()
			continue
		}
		appName, _ := p.expectString()
		app := &ast.ApplicationBlock{Name: appName}
		for !p.atEOF() && !p.isKeyword("end") {
			if !p.isKeyword("uses") && !p.isKeyword("modify") {
				break
			}
			isModify := p.isKeyword("modify")
			p.advance()
			if !p.expectKeyword("substance") {
				p.resync()
				continue
			}
			subsName, _ := p.expectString()
			_ = isModify
			sub := &ast.SubstanceBlock{Name: subsName}
			sub.Stmts = p.parseStatements()
			p.expectEnd("substance")
			app.Substances = append(app.Substances, sub)
		}
		p.expectEnd("application")
		st.Applications = append(st.Applications, app)
	}
	return st
}

func (p *Parser) parseSimulations() []*ast.SimulationItem {
	var items []*ast.SimulationItem
	for p.isKeyword("simulate") {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		p.advance()
		name, _ := p.expectString()
		item := &ast.SimulationItem{Name: name, Trials: 1, Pos: pos}
		for p.isKeyword("using") {
			p.advance()
			pname, _ := p.expectString()
			item.Stanzas = append(item.Stanzas, pname)
		}
		if p.expectKeyword("from") {
			p.expectKeyword("years")
			lo := p.parseIntLiteral()
			p.expectKeyword("to")
			hi := p.parseIntLiteral()
			item.StartYear, item.EndYear = lo, hi
		}
		if p.isKeyword("trials") {
			p.advance()
			item.Trials = p.parseIntLiteral()
		}
		items = append(items, item)
	}
	return items
}

func (p *Parser) parseIntLiteral() int {
	if p.cur().Kind == lexer.Number {
		t := p.advance()
		f, _ := strconv.ParseFloat(t.Literal, 64)
		return int(f)
	}
	p.errorf("expected number, got %q", p.cur().Text)
	return 0
}

// --- statements ----------------------------------------------------------

func (p *Parser) parseStatements() []ast.Stmt {
	var stmts []ast.Stmt
	for !p.atEOF() && !p.isKeyword("end") {
		before := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		if p.pos == before {
			// no progress: avoid an infinite loop on unrecoverable input.
			p.errorf("unexpected token %q", p.cur().Text)
			p.advance()
		}
	}
	return stmts
}

func (p *Parser) parseStatement() ast.Stmt {
	pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
	switch {
	case p.isKeyword("define"):
		p.advance()
		name, _ := p.identOrString()
		p.expectKeyword("as")
		expr := p.parseExpr()
		return &ast.DefineVar{Name: name, Expr: expr, Pos: pos}

	case p.isKeyword("set"):
		p.advance()
		if p.isKeyword("initial") {
			p.advance()
			p.expectKeyword("charge")
			p.expectKeyword("to")
			expr := p.parseExpr()
			p.expectKeyword("for")
			stream := p.parseStreamName()
			years := p.parseOptionalDuring()
			return &ast.InitialCharge{Stream: stream, Expr: expr, Years: years, Pos: pos}
		}
		target := p.parseStreamName()
		p.expectKeyword("to")
		expr := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.SetStream{Target: target, Expr: expr, Years: years, Pos: pos}

	case p.isKeyword("change"):
		p.advance()
		target := p.parseStreamName()
		p.expectKeyword("by")
		expr := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.ChangeStream{Target: target, Expr: expr, Years: years, Pos: pos}

	case p.isKeyword("cap"):
		p.advance()
		target := p.parseStreamName()
		p.expectKeyword("to")
		limit := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.CapStream{Target: target, Limit: limit, Years: years, Pos: pos}

	case p.isKeyword("floor"):
		p.advance()
		target := p.parseStreamName()
		p.expectKeyword("to")
		limit := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.FloorStream{Target: target, Limit: limit, Years: years, Pos: pos}

	case p.isKeyword("recharge"):
		p.advance()
		pop := p.parseExpr()
		p.expectKeyword("with")
		vol := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.Recharge{PopulationPortion: pop, VolumePerUnit: vol, Years: years, Pos: pos}

	case p.isKeyword("retire"):
		p.advance()
		pct := p.parseExpr()
		years := p.parseOptionalDuring()
		return &ast.Retire{PctPerYear: pct, Years: years, Pos: pos}

	case p.isKeyword("recover"):
		p.advance()
		volume := p.parseExpr()
		p.expectKeyword("with")
		yield := p.parseExpr()
		p.expectKeyword("reuse")
		var disp ast.Expr
		var target string
		if p.isKeyword("displacing") {
			p.advance()
			disp = p.parseExpr()
			target = p.parseStreamName()
		}
		years := p.parseOptionalDuring()
		return &ast.Recycle{Volume: volume, Yield: yield, DisplacementPct: disp, DisplacementTarget: target, Years: years, Pos: pos}

	case p.isKeyword("replace"):
		p.advance()
		volume := p.parseExpr()
		p.expectKeyword("of")
		stream := p.parseStreamName()
		p.expectKeyword("with")
		dest, _ := p.expectString()
		years := p.parseOptionalDuring()
		return &ast.Replace{Volume: volume, Stream: stream, DestinationSubst: dest, Years: years, Pos: pos}

	case p.isKeyword("charge"):
		p.advance()
		expr := p.parseExpr()
		p.expectKeyword("to")
		p.parseStreamName() // validated but not kept: Emit always targets consumption
		years := p.parseOptionalDuring()
		return &ast.Emit{Expr: expr, Years: years, Pos: pos}

	case p.isKeyword("equals"):
		p.advance()
		expr := p.parseExpr()
		return &ast.Equals{Expr: expr, Pos: pos}

	case p.isKeyword("uses") && p.isIdentWordAt(1, "energy"):
		p.advance()
		p.advance() // "energy"
		expr := p.parseExpr()
		return &ast.UsesEnergy{Expr: expr, Pos: pos}
	}

	p.errorf("unrecognized statement starting at %q", p.cur().Text)
	p.resync()
	return nil
}

func (p *Parser) isIdentWordAt(offset int, word string) bool {
	t := p.at(offset)
	return (t.Kind == lexer.Identifier || t.Kind == lexer.Keyword) && strings.EqualFold(t.Literal, word)
}

func (p *Parser) identOrString() (string, bool) {
	t := p.cur()
	if t.Kind == lexer.String {
		p.advance()
		return t.Literal, true
	}
	if t.Kind == lexer.Identifier {
		p.advance()
		return t.Literal, true
	}
	p.errorf("expected identifier or string, got %q", t.Text)
	return "", false
}

// streamNames is the fixed closed set from spec section 3. Only
// "priorEquipment", "equipment", "export", "import", "manufacture", "sales"
// are reserved keywords; the rest lex as identifiers.
var streamNames = map[string]bool{
	"manufacture": true, "import": true, "sales": true, "recycle": true,
	"consumption": true, "rechargeemissions": true, "eolemissions": true,
	"equipment": true, "priorequipment": true, "newequipment": true,
	"energy": true, "export": true,
}

func (p *Parser) parseStreamName() string {
	t := p.cur()
	if (t.Kind == lexer.Identifier || t.Kind == lexer.Keyword) && streamNames[strings.ToLower(t.Literal)] {
		p.advance()
		return strings.ToLower(t.Literal)
	}
	p.errorf("expected stream name, got %q", t.Text)
	return ""
}

// --- year clauses ----------------------------------------------------------

func (p *Parser) parseOptionalDuring() *ast.YearClause {
	if !p.isKeyword("during") {
		return nil
	}
	p.advance()
	switch {
	case p.isKeyword("all"):
		p.advance()
		p.expectKeyword("years")
		return &ast.YearClause{Kind: ast.YearAll}
	case p.isKeyword("year"):
		p.advance()
		if p.isIdentWord("beginning") {
			p.advance()
			return &ast.YearClause{Kind: ast.YearOnStart}
		}
		e := p.parseExpr()
		return &ast.YearClause{Kind: ast.YearSingle, Low: e}
	case p.isKeyword("years"):
		p.advance()
		if p.isIdentWord("beginning") {
			p.advance()
			p.expectKeyword("to")
			hi := p.parseExpr()
			return &ast.YearClause{Kind: ast.YearWithMax, High: hi}
		}
		lo := p.parseExpr()
		if p.isIdentWord("onwards") {
			p.advance()
			return &ast.YearClause{Kind: ast.YearWithMin, Low: lo}
		}
		p.expectKeyword("to")
		hi := p.parseExpr()
		return &ast.YearClause{Kind: ast.YearRange, Low: lo, High: hi}
	}
	p.errorf("unrecognized during-clause at %q", p.cur().Text)
	return nil
}

// --- expressions -----------------------------------------------------------

// Precedence, lowest to highest: conditional > logic(and/or/xor) >
// comparison > additive > multiplicative > exponent > unary/primary.

func (p *Parser) parseExpr() ast.Expr {
	return p.parseConditional()
}

func (p *Parser) parseConditional() ast.Expr {
	if p.isKeyword("if") {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		p.advance()
		cond := p.parseLogic()
		p.expectKeyword("then")
		thenE := p.parseLogic()
		var elseE ast.Expr
		if p.isKeyword("else") {
			p.advance()
			elseE = p.parseLogic()
		}
		p.expectKeyword("endif")
		return &ast.Conditional{Cond: cond, Then: thenE, Else: elseE, Pos: pos}
	}
	return p.parseLogic()
}

func (p *Parser) parseLogic() ast.Expr {
	left := p.parseComparison()
	for p.isKeyword("and") || p.isKeyword("or") || p.isKeyword("xor") {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		op := ast.LogicAnd
		switch {
		case p.isKeyword("or"):
			op = ast.LogicOr
		case p.isKeyword("xor"):
			op = ast.LogicXor
		}
		p.advance()
		right := p.parseComparison()
		left = &ast.Logic{Op: op, A: left, B: right, Pos: pos}
	}
	return left
}

func (p *Parser) parseComparison() ast.Expr {
	left := p.parseAdditive()
	for {
		var op ast.CompareOp
		switch p.cur().Kind {
		case lexer.EqEq:
			op = ast.CmpEq
		case lexer.NotEq:
			op = ast.CmpNeq
		case lexer.Lt:
			op = ast.CmpLt
		case lexer.LtEq:
			op = ast.CmpLte
		case lexer.Gt:
			op = ast.CmpGt
		case lexer.GtEq:
			op = ast.CmpGte
		default:
			return left
		}
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		p.advance()
		right := p.parseAdditive()
		left = &ast.Compare{Op: op, A: left, B: right, Pos: pos}
	}
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.cur().Kind == lexer.Plus || p.cur().Kind == lexer.Minus {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		op := ast.Add
		if p.cur().Kind == lexer.Minus {
			op = ast.Sub
		}
		p.advance()
		right := p.parseMultiplicative()
		left = &ast.Arith{Op: op, A: left, B: right, Pos: pos}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parseExponent()
	for p.cur().Kind == lexer.Star || p.cur().Kind == lexer.Slash {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		op := ast.Mul
		if p.cur().Kind == lexer.Slash {
			op = ast.Div
		}
		p.advance()
		right := p.parseExponent()
		left = &ast.Arith{Op: op, A: left, B: right, Pos: pos}
	}
	return left
}

func (p *Parser) parseExponent() ast.Expr {
	left := p.parseUnary()
	if p.cur().Kind == lexer.Caret {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		p.advance()
		right := p.parseExponent() // right-associative
		return &ast.Arith{Op: ast.Pow, A: left, B: right, Pos: pos}
	}
	return left
}

func (p *Parser) parseUnary() ast.Expr {
	if p.cur().Kind == lexer.Minus {
		pos := ast.Pos{Line: p.cur().Line, Column: p.cur().Column}
		p.advance()
		operand := p.parseUnary()
		return &ast.Negate{Operand: operand, Pos: pos}
	}
	return p.parsePrimaryWithUnit()
}

// parsePrimaryWithUnit parses a primary expression and, if immediately
// followed by a unit token, wraps it in a UnitValue (handling ratio
// units like "2 kg / unit").
func (p *Parser) parsePrimaryWithUnit() ast.Expr {
	primary := p.parsePrimary()
	if unit, ok := p.tryParseUnit(); ok {
		return &ast.UnitValue{Value: primary, Unit: unit, Pos: pos(primary)}
	}
	return primary
}

func (p *Parser) tryParseUnit() (string, bool) {
	num, ok := p.tryUnitWord()
	if !ok {
		return "", false
	}
	if p.cur().Kind == lexer.Slash && p.unitWordAt(1) {
		p.advance()
		den, _ := p.tryUnitWord()
		return num + " / " + den, true
	}
	return num, true
}

var unitWords = map[string]string{
	"kg": "kg", "mt": "mt", "unit": "unit", "units": "units",
	"tco2e": "tCO2e", "kwh": "kwh", "year": "year", "years": "years",
	"percent": "%",
}

func (p *Parser) tryUnitWord() (string, bool) {
	t := p.cur()
	if t.Kind != lexer.Keyword && t.Kind != lexer.Identifier {
		return "", false
	}
	if u, ok := unitWords[strings.ToLower(t.Literal)]; ok {
		p.advance()
		return u, true
	}
	return "", false
}

func (p *Parser) unitWordAt(offset int) bool {
	t := p.at(offset)
	if t.Kind != lexer.Keyword && t.Kind != lexer.Identifier {
		return false
	}
	_, ok := unitWords[strings.ToLower(t.Literal)]
	return ok
}

func (p *Parser) parsePrimary() ast.Expr {
	t := p.cur()
	pos := ast.Pos{Line: t.Line, Column: t.Column}

	switch {
	case t.Kind == lexer.Number:
		p.advance()
		f, _ := strconv.ParseFloat(t.Literal, 64)
		return &ast.Number{Value: f, Pos: pos}

	case t.Kind == lexer.String:
		p.advance()
		return &ast.String{Value: t.Literal, Pos: pos}

	case t.Kind == lexer.LParen:
		p.advance()
		e := p.parseExpr()
		if p.cur().Kind == lexer.RParen {
			p.advance()
		} else {
			p.errorf("expected ')'")
		}
		return e

	case p.isKeyword("sample"):
		p.advance()
		switch {
		case p.isKeyword("normally"):
			p.advance()
			p.expectKeyword("from")
			p.expectKeyword("mean")
			p.expectKeyword("of")
			mean := p.parseExpr()
			p.expectKeyword("std")
			p.expectKeyword("of")
			std := p.parseExpr()
			return &ast.SampleNormal{Mean: mean, Std: std, Pos: pos}
		case p.isKeyword("uniformly"):
			p.advance()
			p.expectKeyword("from")
			low := p.parseExpr()
			p.expectKeyword("to")
			high := p.parseExpr()
			return &ast.SampleUniform{Low: low, High: high, Pos: pos}
		}
		p.errorf("expected 'normally' or 'uniformly' after 'sample'")
		return &ast.Number{Value: 0, Pos: pos}

	case p.isKeyword("limit"):
		p.advance()
		value := p.parseAdditive()
		if p.isIdentWord("minimum") {
			p.advance()
			low := p.parseAdditive()
			return &ast.Limit{Kind: ast.LimitMin, Value: value, Low: low, Pos: pos}
		}
		if p.isIdentWord("maximum") {
			p.advance()
			high := p.parseAdditive()
			return &ast.Limit{Kind: ast.LimitMax, Value: value, High: high, Pos: pos}
		}
		p.errorf("expected 'minimum' or 'maximum' after 'limit'")
		return value

	case p.isKeyword("get"):
		p.advance()
		stream := p.parseStreamName()
		gs := &ast.GetStream{Stream: stream, Pos: pos}
		if p.isKeyword("for") {
			p.advance()
			gs.RescopeApp, _ = p.expectString()
			p.expectKeyword("of")
			gs.RescopeSubs, _ = p.expectString()
		}
		if p.isKeyword("as") {
			p.advance()
			gs.Conversion, _ = p.tryParseUnit()
		}
		return gs

	case t.Kind == lexer.Identifier:
		p.advance()
		return &ast.Identifier{Name: t.Literal, Pos: pos}
	}

	p.errorf("unexpected token %q in expression", t.Text)
	p.advance()
	return &ast.Number{Value: 0, Pos: pos}
}

func pos(e ast.Expr) ast.Pos {
	switch v := e.(type) {
	case *ast.Number:
		return v.Pos
	case *ast.String:
		return v.Pos
	case *ast.Identifier:
		return v.Pos
	case *ast.UnitValue:
		return v.Pos
	case *ast.Arith:
		return v.Pos
	case *ast.Compare:
		return v.Pos
	case *ast.Logic:
		return v.Pos
	case *ast.Conditional:
		return v.Pos
	case *ast.GetStream:
		return v.Pos
	case *ast.Limit:
		return v.Pos
	case *ast.SampleNormal:
		return v.Pos
	case *ast.SampleUniform:
		return v.Pos
	}
	return ast.Pos{}
}
