package model

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"metarecord/internal/core/apperror"
	"metarecord/internal/core/entity"
)

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

func compileRules(model string, rules []Rule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("exists", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	out := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		ast, iss := env.Compile(rule.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, apperror.NewInvalidDefinition(model,
				fmt.Sprintf("rule %q: %v", rule.Name, iss.Err())).WithCause(iss.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, apperror.NewInvalidDefinition(model,
				fmt.Sprintf("rule %q: %v", rule.Name, err)).WithCause(err)
		}
		out = append(out, compiledRule{rule: rule, prg: prg})
	}
	return out, nil
}

// evalRules returns a validation error for the first rule that does not hold.
func evalRules(rules []compiledRule, data entity.Attributes, exists bool) error {
	if len(rules) == 0 {
		return nil
	}

	vars := map[string]any{
		"data":   celData(data),
		"exists": exists,
	}
	for _, cr := range rules {
		out, _, err := cr.prg.Eval(vars)
		if err != nil {
			return apperror.NewValidation(fmt.Sprintf("rule %q failed to evaluate", cr.rule.Name)).
				WithDetail("rule", cr.rule.Name).
				WithCause(err)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			msg := cr.rule.Message
			if msg == "" {
				msg = fmt.Sprintf("rule %q not satisfied", cr.rule.Name)
			}
			return apperror.NewValidation(msg).WithDetail("rule", cr.rule.Name)
		}
	}
	return nil
}

// celData converts attribute values CEL has no native mapping for.
func celData(data entity.Attributes) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch x := v.(type) {
		case decimal.Decimal:
			f, _ := x.Float64()
			out[k] = f
		case []byte:
			out[k] = string(x)
		case int:
			out[k] = int64(x)
		case int32:
			out[k] = int64(x)
		case float32:
			out[k] = float64(x)
		case time.Time:
			out[k] = x
		default:
			out[k] = v
		}
	}
	return out
}
