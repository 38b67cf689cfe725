package expressions

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/deskflow/internal/logging"
	"github.com/rendis/deskflow/pkg/schema"
)

// ConditionEvaluator evaluates branch conditions. The accepted language is a
// read-only subset of expr: literals, identifiers, member and index lookups,
// == and !=, and/or/not with their symbolic forms, and parentheses. Anything
// else is rejected before compilation.
//
// The context is visible both as the variable "context" and key by key at
// the top level; True, False and None are accepted as literal aliases.
// Looking up an absent key is an evaluation error, so the condition fails
// closed. Operands of not, and and or are reduced to booleans with the same
// emptiness rules as the final result.
// Thread-safe: compiled programs are cached and reused across goroutines.
type ConditionEvaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates an evaluator that logs fail-closed outcomes
// to logger. A nil logger uses slog.Default.
func NewConditionEvaluator(logger *slog.Logger) *ConditionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionEvaluator{
		logger: logger,
		cache:  make(map[string]*vm.Program),
	}
}

// Evaluate returns the truth of expression over vars. Every failure,
// including a rejected construct, yields false and a warning.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, expression string, vars map[string]any) bool {
	ok, err := e.Eval(expression, vars)
	if err != nil {
		logging.LogWith(ctx, e.logger).Warn("condition failed closed",
			"condition", expression,
			"error", err.Error(),
		)
		return false
	}
	return ok
}

// Eval is Evaluate without the fail-closed wrapper.
func (e *ConditionEvaluator) Eval(expression string, vars map[string]any) (bool, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, conditionEnv(vars))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"condition evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return truthy(out), nil
}

// Check reports whether expression is accepted by the sandbox.
func (e *ConditionEvaluator) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// getOrCompile returns a cached compiled program or checks, compiles and
// caches a new one.
func (e *ConditionEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	if err := sandbox(expression); err != nil {
		return nil, err
	}

	prg, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.DisableAllBuiltins(),
		expr.Function(lookupFn, lookup),
		expr.Function(truthyFn, func(params ...any) (any, error) {
			return truthy(params[0]), nil
		}, new(func(any) bool)),
		expr.Patch(strictLookups{}),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"condition compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// sandbox parses expression and walks its tree, rejecting every node type
// outside the lookup/equality/boolean subset.
func sandbox(expression string) error {
	if expression == "" {
		return schema.NewError(schema.ErrCodeCondition, "empty condition")
	}
	tree, err := parser.Parse(expression)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeCondition,
			"condition parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	w := &whitelist{}
	ast.Walk(&tree.Node, w)
	if w.rejected != "" {
		return schema.NewErrorf(schema.ErrCodeCondition,
			"condition %q uses %s, which is not allowed", expression, w.rejected).
			WithDetails(map[string]any{"expression": expression, "construct": w.rejected})
	}
	return nil
}

type whitelist struct {
	rejected string
}

func (w *whitelist) Visit(node *ast.Node) {
	if w.rejected != "" {
		return
	}
	switch n := (*node).(type) {
	case *ast.NilNode, *ast.BoolNode, *ast.IntegerNode, *ast.FloatNode,
		*ast.StringNode, *ast.IdentifierNode, *ast.ConstantNode, *ast.MemberNode:
	case *ast.UnaryNode:
		switch n.Operator {
		case "not", "!":
		default:
			w.rejected = fmt.Sprintf("operator %q", n.Operator)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "==", "!=", "and", "&&", "or", "||":
		default:
			w.rejected = fmt.Sprintf("operator %q", n.Operator)
		}
	case *ast.CallNode:
		w.rejected = "a function call"
	case *ast.BuiltinNode:
		w.rejected = fmt.Sprintf("builtin %q", n.Name)
	default:
		w.rejected = fmt.Sprintf("%T", n)
	}
}

// Functions injected by strictLookups. The sandbox rejects calls in source
// text, so conditions cannot name them directly.
const (
	lookupFn = "__lookup"
	truthyFn = "__truthy"
)

// strictLookups rewrites every key lookup, bare identifiers included, into a
// lookupFn call and wraps boolean operands in truthyFn.
type strictLookups struct{}

func (strictLookups) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		switch n.Value {
		case "context", "True", "False", "None":
			return
		}
		ast.Patch(node, callNode(lookupFn, &ast.IdentifierNode{Value: "context"}, &ast.StringNode{Value: n.Value}))
	case *ast.MemberNode:
		ast.Patch(node, callNode(lookupFn, n.Node, n.Property))
	case *ast.UnaryNode:
		if n.Operator == "not" || n.Operator == "!" {
			n.Node = callNode(truthyFn, n.Node)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "and", "&&", "or", "||":
			n.Left = callNode(truthyFn, n.Left)
			n.Right = callNode(truthyFn, n.Right)
		}
	}
}

func callNode(name string, args ...ast.Node) *ast.CallNode {
	return &ast.CallNode{Callee: &ast.IdentifierNode{Value: name}, Arguments: args}
}

// lookup fetches key from a map or index from a list, failing on absent
// keys and out-of-range indexes.
func lookup(params ...any) (any, error) {
	from, key := params[0], params[1]
	switch c := from.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("key %v is not a string", key)
		}
		v, ok := c[k]
		if !ok {
			return nil, fmt.Errorf("key %q not found", k)
		}
		return v, nil
	}

	rv := reflect.ValueOf(from)
	switch rv.Kind() {
	case reflect.Map:
		kv := reflect.ValueOf(key)
		if !kv.IsValid() || !kv.Type().AssignableTo(rv.Type().Key()) {
			return nil, fmt.Errorf("key %v does not fit %T", key, from)
		}
		v := rv.MapIndex(kv)
		if !v.IsValid() {
			return nil, fmt.Errorf("key %v not found", key)
		}
		return v.Interface(), nil
	case reflect.Slice, reflect.Array:
		i, ok := key.(int)
		if !ok {
			return nil, fmt.Errorf("index %v is not an integer", key)
		}
		if i < 0 || i >= rv.Len() {
			return nil, fmt.Errorf("index %v out of range", key)
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, fmt.Errorf("cannot look up %v in %T", key, from)
}

// conditionEnv exposes vars as "context" next to the literal aliases. Bare
// identifiers reach vars through lookupFn.
func conditionEnv(vars map[string]any) map[string]any {
	if vars == nil {
		vars = map[string]any{}
	}
	return map[string]any{
		"context": vars,
		"True":    true,
		"False":   false,
		"None":    nil,
	}
}

// truthy converts an evaluation result to a branch decision. Non-boolean
// results follow the usual emptiness rules.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	default:
		return true
	}
}
