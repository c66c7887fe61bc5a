// Package template implements a Jinja-compatible expression language for
// evaluating text against the live entity state store: variables,
// arithmetic, comparison, boolean and ternary logic, "in" membership,
// attribute/index access, a function and filter catalog, and a reflective
// "states" object (states.domain.object_id, states('entity_id')).
//
// No teacher or example repo ships a Jinja evaluator — the reference
// implementation uses Rust's minijinja, which has no Go port in the
// retrieval pack. The grammar is parsed with
// github.com/alecthomas/participle/v2 (already an indirect dependency of
// the teacher's own go.mod, promoted here to direct) into an AST, then
// walked by a tree-walking evaluator.
package template
