package moduledriver

import "github.com/tswasm/lower/sem"

// collectNested walks fn's body for function-expression literals, since
// a closure's *sem.Function is only reachable through the expression
// tree that constructs it, never through *sem.Resolve directly (every
// captured scope belongs to some enclosing function's body).
// Found functions are appended to out and also walked themselves, so
// closures nested inside closures are all discovered.
func collectNested(fn *sem.Function, out *[]*sem.Function) {
	for _, s := range fn.Body {
		walkStmtForFuncs(s, out)
	}
}

func walkStmtForFuncs(s sem.Stmt, out *[]*sem.Function) {
	switch v := s.(type) {
	case *sem.ExprStmt:
		walkExprForFuncs(v.X, out)
	case *sem.Block:
		for _, st := range v.Stmts {
			walkStmtForFuncs(st, out)
		}
	case *sem.If:
		walkExprForFuncs(v.Cond, out)
		for _, st := range v.Then {
			walkStmtForFuncs(st, out)
		}
		for _, st := range v.Else {
			walkStmtForFuncs(st, out)
		}
	case *sem.Loop:
		if v.Init != nil {
			walkStmtForFuncs(v.Init, out)
		}
		if v.Cond != nil {
			walkExprForFuncs(v.Cond, out)
		}
		if v.Post != nil {
			walkExprForFuncs(v.Post, out)
		}
		for _, st := range v.Body {
			walkStmtForFuncs(st, out)
		}
	case *sem.Switch:
		walkExprForFuncs(v.Subject, out)
		for _, c := range v.Cases {
			if c.Value != nil {
				walkExprForFuncs(c.Value, out)
			}
			for _, st := range c.Body {
				walkStmtForFuncs(st, out)
			}
		}
	case *sem.Return:
		if v.X != nil {
			walkExprForFuncs(v.X, out)
		}
	case *sem.VarDecl:
		if v.Init != nil {
			walkExprForFuncs(v.Init, out)
		}
	}
}

func walkExprForFuncs(e sem.Expr, out *[]*sem.Function) {
	switch v := e.(type) {
	case *sem.FunctionExpr:
		*out = append(*out, v.Func)
		collectNested(v.Func, out)
	case *sem.Binary:
		walkExprForFuncs(v.Left, out)
		walkExprForFuncs(v.Right, out)
	case *sem.Unary:
		walkExprForFuncs(v.Operand, out)
	case *sem.Assign:
		walkExprForFuncs(v.Target, out)
		walkExprForFuncs(v.Value, out)
	case *sem.PropertyAccess:
		walkExprForFuncs(v.Receiver, out)
	case *sem.ElementAccess:
		walkExprForFuncs(v.Receiver, out)
		walkExprForFuncs(v.Index, out)
	case *sem.Call:
		walkExprForFuncs(v.Callee, out)
		for _, a := range v.Args {
			walkExprForFuncs(a, out)
		}
	case *sem.New:
		for _, a := range v.Args {
			walkExprForFuncs(a, out)
		}
		for _, a := range v.ArrayLit {
			walkExprForFuncs(a, out)
		}
		if v.ArrayLen != nil {
			walkExprForFuncs(v.ArrayLen, out)
		}
	case *sem.Super:
		for _, a := range v.Args {
			walkExprForFuncs(a, out)
		}
	case *sem.Cast:
		walkExprForFuncs(v.Operand, out)
	case *sem.Conditional:
		walkExprForFuncs(v.Cond, out)
		walkExprForFuncs(v.Then, out)
		walkExprForFuncs(v.Else, out)
	case *sem.Truthiness:
		walkExprForFuncs(v.Operand, out)
	}
}
