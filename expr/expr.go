// Package expr compiles directive source into programs evaluated against a
// scope. The language is HCL native expression syntax extended with
// assignment statements:
//
//	count += 1; label = format("%d items", length(items))
//
// Free identifiers resolve through the scope accessor, so every dotted path
// an expression names is read through Scope.Get. The context variables root,
// element and event shadow scope keys of the same name.
package expr

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/delaneyj/sprinkle/dom"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

var ErrAssignTarget = errors.New("invalid assignment target")

// Scope is the accessor programs read and write through. Nested mappings may
// come back either as a Scope or as a plain map[string]any.
type Scope interface {
	Get(key string) any
	Set(key string, value any)
}

// Env is what a program is evaluated against.
type Env struct {
	Scope   Scope
	Root    dom.Element
	Element dom.Element
	Event   *dom.Event
}

type Program interface {
	Source() string
	// Eval runs every statement and returns the value of the last one, or nil
	// when the last statement is an assignment.
	Eval(env Env) (any, error)
}

type Compiler interface {
	Compile(src string) (Program, error)
}

// HCL compiles programs and caches them by source.
type HCL struct {
	mu    sync.RWMutex
	cache map[uint64]*program
	base  *hcl.EvalContext
}

var _ Compiler = (*HCL)(nil)

func New() *HCL {
	return &HCL{
		cache: map[uint64]*program{},
		base:  &hcl.EvalContext{Functions: Builtins()},
	}
}

func (c *HCL) Compile(src string) (Program, error) {
	key := xxhash.Sum64String(src)
	c.mu.RLock()
	p, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && p.src == src {
		return p, nil
	}

	p, err := c.compile(src)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = p
	c.mu.Unlock()
	return p, nil
}

type statement struct {
	target []string
	expr   hclsyntax.Expression
	vars   []hcl.Traversal
	funcs  []string
}

type program struct {
	c     *HCL
	src   string
	stmts []statement
}

func (c *HCL) compile(src string) (*program, error) {
	p := &program{c: c, src: src}
	for _, raw := range splitStatements(src) {
		target, exprSrc := parseAssignment(raw)
		e, diags := hclsyntax.ParseExpression([]byte(exprSrc), "directive", hcl.Pos{Line: 1, Column: 1})
		if diags.HasErrors() {
			return nil, fmt.Errorf("compile %q: %w", raw, diags)
		}
		p.stmts = append(p.stmts, statement{
			target: target,
			expr:   e,
			vars:   e.Variables(),
			funcs:  calledFunctions(e),
		})
	}
	return p, nil
}

func (p *program) Source() string { return p.src }

func (p *program) Eval(env Env) (any, error) {
	var last any
	for _, st := range p.stmts {
		ctx, err := p.c.evalContext(st, env)
		if err != nil {
			return nil, err
		}
		v, diags := st.expr.Value(ctx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("eval %q: %w", p.src, diags)
		}
		value, err := FromCty(v)
		if err != nil {
			return nil, err
		}
		if st.target == nil {
			last = value
			continue
		}
		if err := assign(env.Scope, st.target, value); err != nil {
			return nil, err
		}
		last = nil
	}
	return last, nil
}

func (c *HCL) evalContext(st statement, env Env) (*hcl.EvalContext, error) {
	ctx := c.base.NewChild()
	ctx.Variables = make(map[string]cty.Value, len(st.vars))
	for _, tr := range st.vars {
		name := tr.RootName()
		if _, done := ctx.Variables[name]; done {
			track(env.Scope, tr)
			continue
		}
		var (
			v   cty.Value
			err error
		)
		switch name {
		case "root":
			v = ElementValue(env.Root)
		case "element":
			v = ElementValue(env.Element)
		case "event":
			v = EventValue(env.Event)
		default:
			v, err = resolve(env.Scope, tr)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		ctx.Variables[name] = v
	}

	for _, name := range st.funcs {
		if env.Scope == nil {
			break
		}
		if fn, ok := env.Scope.Get(name).(function.Function); ok {
			if ctx.Functions == nil {
				ctx.Functions = map[string]function.Function{}
			}
			ctx.Functions[name] = fn
		}
	}
	return ctx, nil
}

// resolve reads the traversal root through s and walks the attribute steps
// through nested scopes so that each named path is tracked. The root value
// is converted whole.
func resolve(s Scope, tr hcl.Traversal) (cty.Value, error) {
	if s == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	root := s.Get(tr.RootName())
	descend(root, tr[1:])
	return ToCty(root)
}

func track(s Scope, tr hcl.Traversal) {
	if s == nil {
		return
	}
	descend(s.Get(tr.RootName()), tr[1:])
}

func descend(cur any, steps hcl.Traversal) {
	for _, step := range steps {
		next, ok := cur.(Scope)
		if !ok {
			return
		}
		switch st := step.(type) {
		case hcl.TraverseAttr:
			cur = next.Get(st.Name)
		case hcl.TraverseIndex:
			if !st.Key.IsKnown() || st.Key.IsNull() || !st.Key.Type().Equals(cty.String) {
				return
			}
			cur = next.Get(st.Key.AsString())
		default:
			return
		}
	}
}

func assign(s Scope, target []string, value any) error {
	if s == nil {
		return fmt.Errorf("%w: %s has no scope", ErrAssignTarget, strings.Join(target, "."))
	}
	cur := s
	for i, key := range target[:len(target)-1] {
		switch next := cur.Get(key).(type) {
		case Scope:
			cur = next
		case map[string]any:
			cur = MapScope(next)
		default:
			return fmt.Errorf("%w: %s is not a mapping", ErrAssignTarget, strings.Join(target[:i+1], "."))
		}
	}
	cur.Set(target[len(target)-1], value)
	return nil
}

// MapScope is an untracked Scope over a plain mapping.
type MapScope map[string]any

func (m MapScope) Get(key string) any        { return m[key] }
func (m MapScope) Set(key string, value any) { m[key] = value }
func (m MapScope) Raw() map[string]any       { return m }

func calledFunctions(e hclsyntax.Expression) []string {
	var names []string
	seen := map[string]bool{}
	hclsyntax.VisitAll(e, func(n hclsyntax.Node) hcl.Diagnostics {
		if call, ok := n.(*hclsyntax.FunctionCallExpr); ok && !seen[call.Name] {
			seen[call.Name] = true
			names = append(names, call.Name)
		}
		return nil
	})
	return names
}
