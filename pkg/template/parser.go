package template

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
	"github.com/cuemby/hassd/pkg/core"
)

var (
	exprParser     *participle.Parser[Expr]
	exprParserOnce sync.Once
)

func getExprParser() *participle.Parser[Expr] {
	exprParserOnce.Do(func() {
		exprParser = participle.MustBuild[Expr](
			participle.Lexer(exprLexer),
			participle.Elide("Whitespace"),
			participle.UseLookahead(2),
		)
	})
	return exprParser
}

// parseExpr parses a single expression (the contents of a {{ }} or a
// condition inside a {% if %}/{% while %}/etc.) into its AST.
func parseExpr(src string) (*Expr, error) {
	expr, err := getExprParser().ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrParse, err)
	}
	return expr, nil
}

// unquote strips the surrounding quote characters a String token was
// lexed with and resolves the small set of backslash escapes templates
// commonly rely on.
func unquote(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(inner[i])
			default:
				b.WriteByte('\\')
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
