package template

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer tokenizes the expression grammar found inside {{ ... }} and
// {% ... %} blocks. Rules are ordered longest-match-first, as required by
// participle's Simple lexer.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Float", Pattern: `\d+\.\d+`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "FloorDiv", Pattern: `//`},
	{Name: "Eq", Pattern: `==`},
	{Name: "Ne", Pattern: `!=`},
	{Name: "Le", Pattern: `<=`},
	{Name: "Ge", Pattern: `>=`},
	{Name: "Punct", Pattern: `[-+*/%()\[\]{}.,|:<>=]`},
})
