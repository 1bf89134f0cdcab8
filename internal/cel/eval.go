// Package cel compiles CEL expressions used to filter pushed messages before
// they reach a subscription.
package cel

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gezibash/up4w/pkg/wire"
)

// MessageKeys are the variables a message filter may reference. Every field
// of the ret object is exposed by name, the frame topic as rsp and the whole
// payload as ret.
var MessageKeys = []string{
	"rsp", "ret",
	"swarm", "id", "timestamp", "sender", "app", "recipient",
	"action", "content", "content_type", "media",
}

// Filter is a compiled CEL expression evaluated against attribute maps.
type Filter struct {
	expr    string
	program cel.Program
}

// Compile parses and compiles expr with keys declared as dynamic-typed
// variables. Keys absent at evaluation time make Match return false.
func Compile(expr string, keys ...string) (*Filter, error) {
	opts := make([]cel.EnvOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, cel.Variable(k, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("cel compile: %q yields %s, want bool", expr, ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return &Filter{expr: expr, program: prog}, nil
}

// CompileMessage compiles a filter over MessageKeys.
func CompileMessage(expr string) (*Filter, error) {
	return Compile(expr, MessageKeys...)
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against attrs.
// Returns false (not error) on missing keys, type mismatches, or evaluation errors.
func (f *Filter) Match(attrs map[string]any) bool {
	out, _, err := f.program.Eval(attrs)
	if err != nil {
		return false
	}
	if out.Type() != types.BoolType {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// MatchResponse evaluates the filter against the attributes of resp.
func (f *Filter) MatchResponse(resp *wire.Response) bool {
	return f.Match(Attributes(resp))
}

// Attributes flattens a response into filter variables. Integral JSON numbers
// become int64 so that comparisons against integer literals succeed.
func Attributes(resp *wire.Response) map[string]any {
	attrs := map[string]any{"rsp": resp.Rsp}
	if !resp.HasRet() {
		return attrs
	}

	var ret any
	if err := json.Unmarshal(resp.Ret, &ret); err != nil {
		return attrs
	}
	ret = normalize(ret)
	attrs["ret"] = ret

	if obj, ok := ret.(map[string]any); ok {
		for k, v := range obj {
			if k == "rsp" || k == "ret" {
				continue
			}
			attrs[k] = v
		}
	}
	return attrs
}

func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
