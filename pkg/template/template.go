package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/state"
)

// Engine renders templates against a live state store: variable
// substitution ({{ expr }}), and minimal control flow ({% if %}/{% elif
// %}/{% else %}/{% endif %}, {% for x in y %}/{% endfor %}).
type Engine struct {
	store    *state.Store
	now      core.Clock
	builtins map[string]Value
}

// NewEngine creates a template engine backed by store, using now for every
// time-related function.
func NewEngine(store *state.Store, now core.Clock) *Engine {
	return &Engine{
		store:    store,
		now:      now,
		builtins: builtinFunctions(store, now),
	}
}

// Render parses and executes a full template (text interspersed with
// {{ }}/{% %} tags) against vars, returning the rendered text. A missing
// entity or variable renders as empty text; only parse/render errors fail.
func (e *Engine) Render(tmpl string, vars map[string]Value) (string, error) {
	nodes, err := parseTemplate(tmpl)
	if err != nil {
		return "", err
	}
	env := e.NewEnv(vars)
	var b strings.Builder
	if err := renderNodes(nodes, env, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// EvalValue evaluates a single expression (no surrounding {{ }} or text)
// and returns its Value.
func (e *Engine) EvalValue(expr string, vars map[string]Value) (Value, error) {
	ast, err := parseExpr(expr)
	if err != nil {
		return Undefined, err
	}
	return Eval(ast, e.NewEnv(vars))
}

// EvalBool evaluates expr and reports its truthiness — the contract used
// by template triggers/conditions and wait_template.
func (e *Engine) EvalBool(expr string, vars map[string]Value) (bool, error) {
	val, err := e.EvalValue(expr, vars)
	if err != nil {
		return false, err
	}
	return val.Truthy(), nil
}

// --- text/tag scanning ---

var tagPattern = regexp.MustCompile(`(?s)\{\{.*?\}\}|\{%.*?%\}`)

type tagKind int

const (
	tagText tagKind = iota
	tagExpr
	tagStmt
)

type tag struct {
	kind tagKind
	text string
}

func scanTags(tmpl string) []tag {
	var tags []tag
	last := 0
	for _, loc := range tagPattern.FindAllStringIndex(tmpl, -1) {
		if loc[0] > last {
			tags = append(tags, tag{kind: tagText, text: tmpl[last:loc[0]]})
		}
		raw := tmpl[loc[0]:loc[1]]
		switch {
		case strings.HasPrefix(raw, "{{"):
			tags = append(tags, tag{kind: tagExpr, text: strings.TrimSpace(raw[2 : len(raw)-2])})
		case strings.HasPrefix(raw, "{%"):
			tags = append(tags, tag{kind: tagStmt, text: strings.TrimSpace(raw[2 : len(raw)-2])})
		}
		last = loc[1]
	}
	if last < len(tmpl) {
		tags = append(tags, tag{kind: tagText, text: tmpl[last:]})
	}
	return tags
}

// --- node tree ---

type node interface {
	render(env *Env, b *strings.Builder) error
}

type textNode struct{ text string }

func (n *textNode) render(_ *Env, b *strings.Builder) error {
	b.WriteString(n.text)
	return nil
}

type exprNode struct{ expr *Expr }

func (n *exprNode) render(env *Env, b *strings.Builder) error {
	val, err := Eval(n.expr, env)
	if err != nil {
		return err
	}
	b.WriteString(val.String())
	return nil
}

type ifBranch struct {
	cond *Expr
	body []node
}

type ifNode struct {
	branches []ifBranch
	elseBody []node
}

func (n *ifNode) render(env *Env, b *strings.Builder) error {
	for _, branch := range n.branches {
		val, err := Eval(branch.cond, env)
		if err != nil {
			return err
		}
		if val.Truthy() {
			return renderNodes(branch.body, env, b)
		}
	}
	return renderNodes(n.elseBody, env, b)
}

type forNode struct {
	varName string
	iter    *Expr
	body    []node
}

func (n *forNode) render(env *Env, b *strings.Builder) error {
	val, err := Eval(n.iter, env)
	if err != nil {
		return err
	}
	items, ok := val.Items()
	if !ok {
		return nil
	}
	for _, item := range items {
		child := &Env{vars: make(map[string]Value, len(env.vars)+1), now: env.now}
		for k, v := range env.vars {
			child.vars[k] = v
		}
		child.vars[n.varName] = item
		if err := renderNodes(n.body, child, b); err != nil {
			return err
		}
	}
	return nil
}

func renderNodes(nodes []node, env *Env, b *strings.Builder) error {
	for _, n := range nodes {
		if err := n.render(env, b); err != nil {
			return err
		}
	}
	return nil
}

// --- template parsing ---

type tagCursor struct {
	tags []tag
	pos  int
}

func (c *tagCursor) peek() (tag, bool) {
	if c.pos >= len(c.tags) {
		return tag{}, false
	}
	return c.tags[c.pos], true
}

func (c *tagCursor) next() (tag, bool) {
	t, ok := c.peek()
	if ok {
		c.pos++
	}
	return t, ok
}

func parseTemplate(tmpl string) ([]node, error) {
	c := &tagCursor{tags: scanTags(tmpl)}
	nodes, stop, _, err := parseNodes(c)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		return nil, fmt.Errorf("%w: unexpected %q with no matching opening tag", core.ErrParse, stop)
	}
	return nodes, nil
}

// parseNodes consumes tags until EOF or a block-closing/continuation
// keyword (endif, elif, else, endfor). It returns that keyword plus the
// remainder of its tag text (e.g. the condition following "elif").
func parseNodes(c *tagCursor) ([]node, string, string, error) {
	var nodes []node
	for {
		t, ok := c.next()
		if !ok {
			return nodes, "", "", nil
		}
		switch t.kind {
		case tagText:
			nodes = append(nodes, &textNode{text: t.text})
		case tagExpr:
			ast, err := parseExpr(t.text)
			if err != nil {
				return nil, "", "", err
			}
			nodes = append(nodes, &exprNode{expr: ast})
		case tagStmt:
			keyword, rest := splitKeyword(t.text)
			switch keyword {
			case "if":
				n, err := parseIf(c, rest)
				if err != nil {
					return nil, "", "", err
				}
				nodes = append(nodes, n)
			case "for":
				n, err := parseFor(c, rest)
				if err != nil {
					return nil, "", "", err
				}
				nodes = append(nodes, n)
			case "elif", "else", "endif", "endfor":
				return nodes, keyword, rest, nil
			default:
				return nil, "", "", fmt.Errorf("%w: unknown statement tag %q", core.ErrParse, keyword)
			}
		}
	}
}

func splitKeyword(s string) (string, string) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func parseIf(c *tagCursor, condSrc string) (node, error) {
	n := &ifNode{}
	for {
		cond, err := parseExpr(condSrc)
		if err != nil {
			return nil, err
		}
		body, stop, stopRest, err := parseNodes(c)
		if err != nil {
			return nil, err
		}
		n.branches = append(n.branches, ifBranch{cond: cond, body: body})
		switch stop {
		case "elif":
			condSrc = stopRest
			continue
		case "else":
			elseBody, stop2, _, err := parseNodes(c)
			if err != nil {
				return nil, err
			}
			if stop2 != "endif" {
				return nil, fmt.Errorf("%w: if missing endif", core.ErrParse)
			}
			n.elseBody = elseBody
			return n, nil
		case "endif":
			return n, nil
		default:
			return nil, fmt.Errorf("%w: if missing endif", core.ErrParse)
		}
	}
}

func parseFor(c *tagCursor, header string) (node, error) {
	parts := strings.SplitN(header, " in ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: for loop requires \"x in iterable\"", core.ErrParse)
	}
	varName := strings.TrimSpace(parts[0])
	iter, err := parseExpr(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}
	body, stop, _, err := parseNodes(c)
	if err != nil {
		return nil, err
	}
	if stop != "endfor" {
		return nil, fmt.Errorf("%w: for missing endfor", core.ErrParse)
	}
	return &forNode{varName: varName, iter: iter, body: body}, nil
}
