package template

// Expr is the ternary level: `a if cond else b`, or a plain OrExpr.
type Expr struct {
	Or   *OrExpr `@@`
	Cond *OrExpr `( "if" @@`
	Else *Expr   `  "else" @@ )?`
}

// OrExpr is a chain of "or"-joined AndExprs.
type OrExpr struct {
	Left *AndExpr   `@@`
	Rest []*AndExpr `( "or" @@ )*`
}

// AndExpr is a chain of "and"-joined NotExprs.
type AndExpr struct {
	Left *NotExpr   `@@`
	Rest []*NotExpr `( "and" @@ )*`
}

// NotExpr optionally negates a CompareExpr.
type NotExpr struct {
	Negate bool         `@"not"?`
	Cmp    *CompareExpr `@@`
}

// CompareExpr is an AddExpr chained with zero or more comparison operators.
type CompareExpr struct {
	Left *AddExpr     `@@`
	Ops  []*CompareOp `@@*`
}

// CompareOp is one comparison: ==, !=, <=, >=, <, >, in, or "not in".
type CompareOp struct {
	Negate bool     `@"not"?`
	Op     string   `@( "in" | "==" | "!=" | "<=" | ">=" | "<" | ">" )`
	Right  *AddExpr `@@`
}

// AddExpr is a chain of + / - operators over MulExprs.
type AddExpr struct {
	Left *MulExpr `@@`
	Ops  []*AddOp `@@*`
}

// AddOp is one addition-level operator application.
type AddOp struct {
	Op    string   `@( "+" | "-" )`
	Right *MulExpr `@@`
}

// MulExpr is a chain of * / / // % operators over UnaryExprs.
type MulExpr struct {
	Left *UnaryExpr `@@`
	Ops  []*MulOp   `@@*`
}

// MulOp is one multiplication-level operator application.
type MulOp struct {
	Op    string     `@( "//" | "*" | "/" | "%" )`
	Right *UnaryExpr `@@`
}

// UnaryExpr is an optional unary +/- applied to a FilterExpr.
type UnaryExpr struct {
	Op   string      `@( "-" | "+" )?`
	Expr *FilterExpr `@@`
}

// FilterExpr is a PostfixExpr piped through zero or more filters.
type FilterExpr struct {
	Left    *PostfixExpr  `@@`
	Filters []*FilterCall `( "|" @@ )*`
}

// FilterCall names a filter and its (optional) extra arguments; the
// piped-in value is always the implicit first argument at eval time.
type FilterCall struct {
	Name string  `@Ident`
	Args []*Expr `( "(" ( @@ ( "," @@ )* )? ")" )?`
}

// PostfixExpr is a Primary followed by attribute access, indexing, or calls.
type PostfixExpr struct {
	Primary *Primary     `@@`
	Ops     []*PostfixOp `@@*`
}

// PostfixOp is one of: ".attr", "[index]", or "(args)".
type PostfixOp struct {
	Attr  string    `( "." @Ident )`
	Index *Expr     `| ( "[" @@ "]" )`
	Call  *CallArgs `| ( "(" @@ ")" )`
}

// CallArgs is a comma-separated argument list.
type CallArgs struct {
	Args []*Expr `( @@ ( "," @@ )* )?`
}

// ListLit is a "[" a, b, c "]" literal.
type ListLit struct {
	Items []*Expr `"[" ( @@ ( "," @@ )* )? "]"`
}

// DictEntry is one "key: value" pair of a DictLit.
type DictEntry struct {
	Key   *Expr `@@`
	Value *Expr `":" @@`
}

// DictLit is a "{" k: v, ... "}" literal.
type DictLit struct {
	Entries []*DictEntry `"{" ( @@ ( "," @@ )* )? "}"`
}

// Primary is the leaf of the grammar: literals, identifiers, and
// parenthesized sub-expressions. Keyword literals (true/false/none/null)
// must be checked before the generic Ident fallback, since the lexer
// tokenizes keywords as plain identifiers too.
type Primary struct {
	Float *float64 `@Float`
	Int   *int64   `| @Int`
	Str   *string  `| @String`
	True  bool     `| @"true"`
	False bool     `| @"false"`
	Null  bool     `| @( "none" | "null" )`
	List  *ListLit `| @@`
	Dict  *DictLit `| @@`
	Group *Expr    `| "(" @@ ")"`
	Ident *string  `| @Ident`
}
