// Package compiler lowers parsed AST nodes into closures bound to an
// engine.Engine, per spec section 4.G. Expression closures return
// (units.Quantity, error); statement closures return error. Compilation
// happens once per program; the resulting closures are immutable and safe
// to invoke from many trials running concurrently, since each trial gets
// its own *engine.Engine.
package compiler

import (
	"github.com/example/qubectalk/internal/qubectalk/ast"
	"github.com/example/qubectalk/internal/qubectalk/engine"
	"github.com/example/qubectalk/internal/qubectalk/units"
)

// ExprFn is a compiled expression: evaluated against a live engine, it
// yields a Quantity or a fatal error.
type ExprFn func(eng *engine.Engine) (units.Quantity, error)

// StmtFn is a compiled statement.
type StmtFn func(eng *engine.Engine) error

// YearFn resolves a year clause against a live engine (needed because
// WithMin/WithMax/OnStart reference the engine's start/end years).
type YearFn func(eng *engine.Engine) *engine.YearMatcher

// Stanza is a compiled default/policy stanza: running it re-executes
// every application/substance definition against the current year.
type Stanza struct {
	Name string
	Run  StmtFn
}

// Simulation is a compiled `simulate` clause.
type Simulation struct {
	Name        string
	StanzaNames []string // policy names in declaration order, NOT including "default"
	StartYear   int
	EndYear     int
	Trials      int
}

// Program is the full compiled plan: immutable once returned by Compile.
type Program struct {
	Stanzas     map[string]*Stanza
	Simulations []*Simulation
}

// Compile lowers a parsed ast.Program into an executable Program. Empty
// source (ast.Program with only an empty default stanza) compiles to a
// program with no simulations, matching spec section 4.G's null-program
// rule.
func Compile(prog *ast.Program) (*Program, error) {
	out := &Program{Stanzas: make(map[string]*Stanza)}

	if prog.Default != nil {
		out.Stanzas["default"] = compileStanza(prog.Default)
	}
	for _, policy := range prog.Policies {
		out.Stanzas[policy.Name] = compileStanza(policy)
	}
	for _, sim := range prog.Simulations {
		out.Simulations = append(out.Simulations, &Simulation{
			Name:        sim.Name,
			StanzaNames: sim.Stanzas,
			StartYear:   sim.StartYear,
			EndYear:     sim.EndYear,
			Trials:      sim.Trials,
		})
	}
	return out, nil
}

func compileStanza(st *ast.Stanza) *Stanza {
	type compiledSubstance struct {
		app, subs string
		stmts     []StmtFn
	}
	var subs []compiledSubstance
	for _, app := range st.Applications {
		for _, s := range app.Substances {
			stmts := make([]StmtFn, 0, len(s.Stmts))
			for _, stmt := range s.Stmts {
				stmts = append(stmts, compileStmt(stmt))
			}
			subs = append(subs, compiledSubstance{app: app.Name, subs: s.Name, stmts: stmts})
		}
	}
	name := st.Name
	return &Stanza{
		Name: name,
		Run: func(eng *engine.Engine) error {
			eng.SetStanza(name)
			for _, cs := range subs {
				eng.SetScope(cs.app, cs.subs)
				for _, stmt := range cs.stmts {
					if err := stmt(eng); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// --- statements --------------------------------------------------------

func compileStmt(s ast.Stmt) StmtFn {
	switch n := s.(type) {
	case *ast.DefineVar:
		expr := compileExpr(n.Expr)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			eng.DefineVariable(n.Name, v)
			return nil
		}

	case *ast.SetStream:
		expr := compileExpr(n.Expr)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.SetStream(n.Target, v, years(eng))
		}

	case *ast.ChangeStream:
		expr := compileExpr(n.Expr)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.ChangeStream(n.Target, v, years(eng))
		}

	case *ast.CapStream:
		limit := compileExpr(n.Limit)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := limit(eng)
			if err != nil {
				return err
			}
			return eng.CapStream(n.Target, v, years(eng))
		}

	case *ast.FloorStream:
		limit := compileExpr(n.Limit)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := limit(eng)
			if err != nil {
				return err
			}
			return eng.FloorStream(n.Target, v, years(eng))
		}

	case *ast.InitialCharge:
		expr := compileExpr(n.Expr)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.SetInitialCharge(n.Stream, v, years(eng))
		}

	case *ast.Recharge:
		pop := compileExpr(n.PopulationPortion)
		vol := compileExpr(n.VolumePerUnit)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			pv, err := pop(eng)
			if err != nil {
				return err
			}
			vv, err := vol(eng)
			if err != nil {
				return err
			}
			return eng.Recharge(pv, vv, years(eng))
		}

	case *ast.Retire:
		pct := compileExpr(n.PctPerYear)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := pct(eng)
			if err != nil {
				return err
			}
			return eng.Retire(v, years(eng))
		}

	case *ast.Recycle:
		volume := compileExpr(n.Volume)
		yield := compileExpr(n.Yield)
		var disp ExprFn
		if n.DisplacementPct != nil {
			disp = compileExpr(n.DisplacementPct)
		}
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			vv, err := volume(eng)
			if err != nil {
				return err
			}
			yv, err := yield(eng)
			if err != nil {
				return err
			}
			var dispQty *units.Quantity
			if disp != nil {
				d, err := disp(eng)
				if err != nil {
					return err
				}
				dispQty = &d
			}
			return eng.Recycle(vv, yv, dispQty, n.DisplacementTarget, years(eng))
		}

	case *ast.Replace:
		volume := compileExpr(n.Volume)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			vv, err := volume(eng)
			if err != nil {
				return err
			}
			return eng.Replace(vv, n.Stream, n.DestinationSubst, years(eng))
		}

	case *ast.Emit:
		expr := compileExpr(n.Expr)
		years := compileYears(n.Years)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.Emit(v, years(eng))
		}

	case *ast.Equals:
		expr := compileExpr(n.Expr)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.Equals(v)
		}

	case *ast.UsesEnergy:
		expr := compileExpr(n.Expr)
		return func(eng *engine.Engine) error {
			v, err := expr(eng)
			if err != nil {
				return err
			}
			return eng.UsesEnergy(v)
		}
	}
	return func(eng *engine.Engine) error {
		return eng.Fail(engine.Internal, "unhandled statement type %T", s)
	}
}

// --- year clauses --------------------------------------------------------

func compileYears(yc *ast.YearClause) YearFn {
	if yc == nil || yc.Kind == ast.YearAll {
		return func(*engine.Engine) *engine.YearMatcher { return nil }
	}
	switch yc.Kind {
	case ast.YearSingle:
		low := compileExpr(yc.Low)
		return func(eng *engine.Engine) *engine.YearMatcher {
			y := evalYear(eng, low)
			return &engine.YearMatcher{Min: &y, Max: &y}
		}
	case ast.YearRange:
		low, high := compileExpr(yc.Low), compileExpr(yc.High)
		return func(eng *engine.Engine) *engine.YearMatcher {
			lo, hi := evalYear(eng, low), evalYear(eng, high)
			return &engine.YearMatcher{Min: &lo, Max: &hi}
		}
	case ast.YearWithMin:
		low := compileExpr(yc.Low)
		return func(eng *engine.Engine) *engine.YearMatcher {
			lo := evalYear(eng, low)
			hi := eng.EndYear
			return &engine.YearMatcher{Min: &lo, Max: &hi}
		}
	case ast.YearWithMax:
		high := compileExpr(yc.High)
		return func(eng *engine.Engine) *engine.YearMatcher {
			hi := evalYear(eng, high)
			lo := eng.StartYear
			return &engine.YearMatcher{Min: &lo, Max: &hi}
		}
	case ast.YearOnStart:
		return func(eng *engine.Engine) *engine.YearMatcher {
			y := eng.StartYear
			return &engine.YearMatcher{Min: &y, Max: &y}
		}
	}
	return func(*engine.Engine) *engine.YearMatcher { return nil }
}

func evalYear(eng *engine.Engine, fn ExprFn) int {
	v, err := fn(eng)
	if err != nil {
		return eng.StartYear
	}
	return int(v.Value)
}

// --- expressions -----------------------------------------------------------

func compileExpr(e ast.Expr) ExprFn {
	switch n := e.(type) {
	case *ast.Number:
		v := units.New(n.Value, "")
		return func(*engine.Engine) (units.Quantity, error) { return v, nil }

	case *ast.String:
		v := units.New(0, "string:"+n.Value)
		return func(*engine.Engine) (units.Quantity, error) { return v, nil }

	case *ast.Identifier:
		name := n.Name
		return func(eng *engine.Engine) (units.Quantity, error) { return eng.GetVariable(name) }

	case *ast.UnitValue:
		inner := compileExpr(n.Value)
		unit := n.Unit
		return func(eng *engine.Engine) (units.Quantity, error) {
			v, err := inner(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			return units.New(v.Value, unit), nil
		}

	case *ast.Negate:
		inner := compileExpr(n.Operand)
		return func(eng *engine.Engine) (units.Quantity, error) {
			v, err := inner(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			return units.New(-v.Value, v.Unit), nil
		}

	case *ast.Arith:
		a, b := compileExpr(n.A), compileExpr(n.B)
		op := n.Op
		return func(eng *engine.Engine) (units.Quantity, error) {
			av, err := a(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			bv, err := b(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			conv := eng.Converter()
			switch op {
			case ast.Add:
				return av.Add(bv, conv)
			case ast.Sub:
				return av.Sub(bv, conv)
			case ast.Mul:
				return av.Mul(bv, conv)
			case ast.Div:
				if bv.Value == 0 {
					return units.Quantity{}, eng.Fail(engine.DivisionByZero, "division by zero: %v / %v", av, bv)
				}
				return av.Div(bv)
			case ast.Pow:
				return av.Pow(bv), nil
			}
			return units.Quantity{}, eng.Fail(engine.Internal, "unknown arithmetic operator")
		}

	case *ast.Compare:
		a, b := compileExpr(n.A), compileExpr(n.B)
		op := n.Op
		return func(eng *engine.Engine) (units.Quantity, error) {
			av, err := a(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			bv, err := b(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			cmp, err := av.Compare(bv, eng.Converter())
			if err != nil {
				return units.Quantity{}, eng.Fail(engine.UnitMismatch, "comparing %v to %v: %v", av, bv, err)
			}
			result := false
			switch op {
			case ast.CmpEq:
				result = cmp == 0
			case ast.CmpNeq:
				result = cmp != 0
			case ast.CmpLt:
				result = cmp < 0
			case ast.CmpLte:
				result = cmp <= 0
			case ast.CmpGt:
				result = cmp > 0
			case ast.CmpGte:
				result = cmp >= 0
			}
			return boolQuantity(result), nil
		}

	case *ast.Logic:
		a, b := compileExpr(n.A), compileExpr(n.B)
		op := n.Op
		return func(eng *engine.Engine) (units.Quantity, error) {
			av, err := a(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			bv, err := b(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			at, bt := av.Value != 0, bv.Value != 0
			var result bool
			switch op {
			case ast.LogicAnd:
				result = at && bt
			case ast.LogicOr:
				result = at || bt
			case ast.LogicXor:
				result = at != bt
			}
			return boolQuantity(result), nil
		}

	case *ast.Conditional:
		cond := compileExpr(n.Cond)
		thenFn := compileExpr(n.Then)
		var elseFn ExprFn
		if n.Else != nil {
			elseFn = compileExpr(n.Else)
		}
		return func(eng *engine.Engine) (units.Quantity, error) {
			cv, err := cond(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			if cv.Value != 0 {
				return thenFn(eng)
			}
			if elseFn != nil {
				return elseFn(eng)
			}
			return units.New(0, ""), nil
		}

	case *ast.GetStream:
		stream := n.Stream
		rescopeApp := n.RescopeApp
		rescopeSubs := n.RescopeSubs
		conversion := n.Conversion
		return func(eng *engine.Engine) (units.Quantity, error) {
			return eng.GetStream(stream, rescopeApp, rescopeSubs, conversion)
		}

	case *ast.Limit:
		value := compileExpr(n.Value)
		var low, high ExprFn
		if n.Low != nil {
			low = compileExpr(n.Low)
		}
		if n.High != nil {
			high = compileExpr(n.High)
		}
		kind := n.Kind
		return func(eng *engine.Engine) (units.Quantity, error) {
			v, err := value(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			switch kind {
			case ast.LimitMin:
				lv, err := low(eng)
				if err != nil {
					return units.Quantity{}, err
				}
				if v.Value < lv.Value {
					return lv, nil
				}
				return v, nil
			case ast.LimitMax:
				hv, err := high(eng)
				if err != nil {
					return units.Quantity{}, err
				}
				if v.Value > hv.Value {
					return hv, nil
				}
				return v, nil
			case ast.LimitBound:
				if low != nil {
					lv, err := low(eng)
					if err != nil {
						return units.Quantity{}, err
					}
					if v.Value < lv.Value {
						v = lv
					}
				}
				if high != nil {
					hv, err := high(eng)
					if err != nil {
						return units.Quantity{}, err
					}
					if v.Value > hv.Value {
						v = hv
					}
				}
				return v, nil
			}
			return v, nil
		}

	case *ast.SampleNormal:
		mean, std := compileExpr(n.Mean), compileExpr(n.Std)
		return func(eng *engine.Engine) (units.Quantity, error) {
			mv, err := mean(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			sv, err := std(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			return units.New(eng.SampleNormal(mv.Value, sv.Value), mv.Unit), nil
		}

	case *ast.SampleUniform:
		low, high := compileExpr(n.Low), compileExpr(n.High)
		return func(eng *engine.Engine) (units.Quantity, error) {
			lv, err := low(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			hv, err := high(eng)
			if err != nil {
				return units.Quantity{}, err
			}
			return units.New(eng.SampleUniform(lv.Value, hv.Value), lv.Unit), nil
		}
	}

	return func(eng *engine.Engine) (units.Quantity, error) {
		return units.Quantity{}, eng.Fail(engine.Internal, "unhandled expression type %T", e)
	}
}

func boolQuantity(b bool) units.Quantity {
	if b {
		return units.New(1, "")
	}
	return units.New(0, "")
}
