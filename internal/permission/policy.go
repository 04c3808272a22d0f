package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"pushgate/pkg/logx"
)

// PolicyConfig holds CEL rules. Each rule is a boolean expression over:
//
//	origin     string  the requesting origin as given
//	host       string  lower-cased host of origin
//	scheme     string  lower-cased scheme of origin
//	capability string  e.g. "notifications"
//	gesture    bool    whether the request followed a user gesture
//	requester  int     correlated requester id, -1 when unknown
type PolicyConfig struct {
	Deny    []string
	Allow   []string
	Default Status
}

// Policy is an Authority driven by CEL rules. Deny rules are evaluated first,
// then allow rules; the first match wins. No match answers Default. A deny
// rule that fails to evaluate denies; a failing allow rule never grants.
type Policy struct {
	deny  []rule
	allow []rule
	def   Status
	log   logx.Logger
}

type rule struct {
	expr string
	prg  cel.Program
}

func NewPolicy(cfg PolicyConfig, log logx.Logger) (*Policy, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	env, err := cel.NewEnv(
		cel.Variable("origin", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("capability", cel.StringType),
		cel.Variable("gesture", cel.BoolType),
		cel.Variable("requester", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("permission: cel env: %w", err)
	}
	deny, err := compileRules(env, "deny", cfg.Deny)
	if err != nil {
		return nil, err
	}
	allow, err := compileRules(env, "allow", cfg.Allow)
	if err != nil {
		return nil, err
	}
	return &Policy{deny: deny, allow: allow, def: cfg.Default, log: log}, nil
}

func compileRules(env *cel.Env, kind string, exprs []string) ([]rule, error) {
	out := make([]rule, 0, len(exprs))
	for i, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("permission.%s[%d]: compile: %w", kind, i, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("permission.%s[%d]: expression must be bool, got %s", kind, i, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("permission.%s[%d]: program: %w", kind, i, err)
		}
		out = append(out, rule{expr: expr, prg: prg})
	}
	return out, nil
}

func activation(q Query) map[string]any {
	scheme, host := originParts(q.Origin)
	capability := string(q.Capability)
	if capability == "" {
		capability = string(Notifications)
	}
	return map[string]any{
		"origin":     q.Origin,
		"host":       host,
		"scheme":     scheme,
		"capability": capability,
		"gesture":    q.UserGesture,
		"requester":  int64(q.Requester),
	}
}

func (p *Policy) Check(ctx context.Context, q Query) Status {
	vars := activation(q)
	if hit, err := p.match(ctx, p.deny, vars); hit || err != nil {
		return Denied
	}
	if hit, _ := p.match(ctx, p.allow, vars); hit {
		return Granted
	}
	return p.def
}

func (p *Policy) RequestPermission(ctx context.Context, q Query, cb func(Status)) {
	cb(p.Check(ctx, q))
}

// match reports whether any rule evaluates to true, stopping at the first
// rule that fails to evaluate.
func (p *Policy) match(ctx context.Context, rules []rule, vars map[string]any) (bool, error) {
	for _, r := range rules {
		out, _, err := r.prg.ContextEval(ctx, vars)
		if err != nil {
			p.log.Warn("permission rule failed", logx.String("expr", r.expr), logx.Err(err))
			return false, fmt.Errorf("permission: eval %q: %w", r.expr, err)
		}
		if v, ok := out.Value().(bool); ok && v {
			return true, nil
		}
	}
	return false, nil
}
