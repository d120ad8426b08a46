package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// evaluate decides a conditional step's branch. A nil condition always
// takes the `then` branch.
func evaluate(cond *agentmodel.Condition, wfCtx *agentmodel.WorkflowContext) bool {
	if cond == nil {
		return true
	}
	switch cond.Type {
	case agentmodel.ConditionAlways:
		return true
	case agentmodel.ConditionNever:
		return false
	case agentmodel.ConditionUser:
		v, ok := wfCtx.Values[cond.Field]
		b, _ := v.(bool)
		return ok && b
	case agentmodel.ConditionContext:
		val, ok := wfCtx.Values[cond.Field]
		return applyOp(cond.Op, val, ok, cond.Value)
	case agentmodel.ConditionResult:
		val, ok := readResultField(wfCtx, cond.Field)
		return applyOp(cond.Op, val, ok, cond.Value)
	default:
		return false
	}
}

// readResultField reads a prior step's output by the dotted
// "stepId.field" convention this runtime uses for result conditions.
func readResultField(wfCtx *agentmodel.WorkflowContext, field string) (any, bool) {
	stepID, key, found := strings.Cut(field, ".")
	if !found {
		return nil, false
	}
	res, ok := wfCtx.StepResults[stepID]
	if !ok || res.Output == nil {
		return nil, false
	}
	v, ok := res.Output[key]
	return v, ok
}

// applyOp applies a Condition's operator. A missing field with
// `exists` evaluates to false rather than erroring, per spec.
func applyOp(op agentmodel.ConditionOp, val any, ok bool, expected any) bool {
	switch op {
	case agentmodel.OpExists:
		return ok
	case agentmodel.OpEmpty:
		return !ok || isEmpty(val)
	case agentmodel.OpNotEmpty:
		return ok && !isEmpty(val)
	case agentmodel.OpEquals:
		return ok && fmt.Sprint(val) == fmt.Sprint(expected)
	case agentmodel.OpContains:
		return ok && strings.Contains(fmt.Sprint(val), fmt.Sprint(expected))
	case agentmodel.OpGT:
		a, aok := toFloat(val)
		b, bok := toFloat(expected)
		return ok && aok && bok && a > b
	case agentmodel.OpLT:
		a, aok := toFloat(val)
		b, bok := toFloat(expected)
		return ok && aok && bok && a < b
	default:
		return false
	}
}

func isEmpty(val any) bool {
	switch v := val.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
