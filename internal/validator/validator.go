// Package validator checks raw planner output against the capability registry
// and produces the typed plan the executor runs. The validator is the trust
// boundary between model output and real operations: everything downstream of
// it assumes steps are well formed.
package validator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/capability"
)

// PlanValidator validates untyped step records against a fixed registry. It
// performs no I/O and holds no mutable state, so a single instance is safe for
// concurrent use.
type PlanValidator struct {
	registry capability.Registry
	guards   map[string]*govaluate.EvaluableExpression
}

// New builds a validator over the given registry, compiling every guard
// expression up front so malformed guards fail at assembly time rather than
// mid-request.
func New(registry capability.Registry) (*PlanValidator, error) {
	guards := make(map[string]*govaluate.EvaluableExpression)
	for provider, ops := range registry {
		for operation, spec := range ops {
			if spec.Guard == "" {
				continue
			}
			expr, err := govaluate.NewEvaluableExpression(spec.Guard)
			if err != nil {
				return nil, castellan.NewConfigurationError(
					fmt.Sprintf("invalid guard for %s.%s", provider, operation), err)
			}
			guards[provider+"."+operation] = expr
		}
	}
	return &PlanValidator{registry: registry, guards: guards}, nil
}

// Validate checks each raw step in order and returns the typed plan. The first
// violation aborts validation; plan order is preserved exactly.
func (v *PlanValidator) Validate(rawSteps []map[string]any) ([]castellan.PlanStep, error) {
	plan := make([]castellan.PlanStep, 0, len(rawSteps))
	seen := make(map[int]bool)

	for i, raw := range rawSteps {
		step, err := v.validateStep(i, raw)
		if err != nil {
			return nil, err
		}
		if seen[step.StepID] {
			return nil, castellan.NewPlanValidationError(
				fmt.Sprintf("duplicate step_id %d", step.StepID), nil)
		}
		seen[step.StepID] = true
		plan = append(plan, *step)
	}
	return plan, nil
}

func (v *PlanValidator) validateStep(index int, raw map[string]any) (*castellan.PlanStep, error) {
	stepID, ok := asInt(raw["step_id"])
	if !ok {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: step_id must be an integer", index), nil)
	}

	provider, ok := raw["provider"].(string)
	if !ok || provider == "" {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: provider must be a non-empty string", stepID), nil)
	}
	if !v.registry.HasProvider(provider) {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: unknown provider %q", stepID, provider), nil)
	}

	operation, ok := raw["operation"].(string)
	if !ok || operation == "" {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: operation must be a non-empty string", stepID), nil)
	}
	spec, ok := v.registry.Operation(provider, operation)
	if !ok {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: provider %q has no operation %q", stepID, provider, operation), nil)
	}

	rawArgs := map[string]any{}
	if argsField, present := raw["args"]; present && argsField != nil {
		rawArgs, ok = argsField.(map[string]any)
		if !ok {
			return nil, castellan.NewPlanValidationError(
				fmt.Sprintf("step %d: args must be an object", stepID), nil)
		}
	}

	args, err := v.validateArgs(stepID, spec, rawArgs)
	if err != nil {
		return nil, err
	}

	if err := v.checkGuard(stepID, provider, operation, args); err != nil {
		return nil, err
	}

	return &castellan.PlanStep{
		StepID:    stepID,
		Provider:  provider,
		Operation: operation,
		Args:      args,
	}, nil
}

// validateArgs type-checks and canonicalizes arguments. Only argument names
// the registry declares are copied through: anything else the model invented
// is dropped silently so the executor never sees undeclared input.
func (v *PlanValidator) validateArgs(stepID int, spec capability.OperationSpec, rawArgs map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(spec.Args))

	for name, argSpec := range spec.Args {
		value, present := rawArgs[name]
		if !present {
			if argSpec.Required {
				return nil, castellan.NewPlanValidationError(
					fmt.Sprintf("step %d: missing required argument %q", stepID, name), nil)
			}
			continue
		}

		coerced, err := coerceValue(stepID, name, argSpec, value)
		if err != nil {
			return nil, err
		}
		args[name] = coerced
	}
	return args, nil
}

func coerceValue(stepID int, name string, spec capability.ArgSpec, value any) (any, error) {
	switch spec.Type {
	case capability.ArgTypeString:
		s, ok := value.(string)
		if !ok {
			return nil, typeError(stepID, name, "string", value)
		}
		if spec.Enum != nil {
			canonical, ok := spec.Enum.Match(s)
			if !ok {
				return nil, castellan.NewPlanValidationError(
					fmt.Sprintf("step %d: argument %q must be one of %s, got %q",
						stepID, name, strings.Join(spec.Enum.Sorted(), ", "), s), nil)
			}
			return canonical, nil
		}
		return s, nil

	case capability.ArgTypeInt:
		n, ok := asInt(value)
		if !ok {
			return nil, typeError(stepID, name, "integer", value)
		}
		return n, nil

	case capability.ArgTypeFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, typeError(stepID, name, "number", value)

	case capability.ArgTypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, typeError(stepID, name, "boolean", value)
		}
		return b, nil

	case capability.ArgTypeList:
		elements, ok := value.([]any)
		if !ok {
			return nil, typeError(stepID, name, "list", value)
		}
		if spec.ElementEnum != nil {
			return canonicalizeEnumList(stepID, name, spec.ElementEnum, elements)
		}
		return elements, nil
	}

	return nil, castellan.NewInternalError("validation",
		fmt.Sprintf("step %d: argument %q has unsupported declared type %q", stepID, name, spec.Type), nil)
}

// canonicalizeEnumList validates every element against the enum, then
// deduplicates and sorts. The canonical form is order-independent so two plans
// requesting the same set compare equal.
func canonicalizeEnumList(stepID int, name string, enum *capability.EnumPolicy, elements []any) ([]string, error) {
	if len(elements) == 0 {
		return nil, castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: argument %q must not be empty", stepID, name), nil)
	}

	uniq := make(map[string]bool, len(elements))
	for _, element := range elements {
		s, ok := element.(string)
		if !ok {
			return nil, castellan.NewPlanValidationError(
				fmt.Sprintf("step %d: argument %q elements must be strings, got %T", stepID, name, element), nil)
		}
		canonical, ok := enum.Match(s)
		if !ok {
			return nil, castellan.NewPlanValidationError(
				fmt.Sprintf("step %d: argument %q element %q must be one of %s",
					stepID, name, s, strings.Join(enum.Sorted(), ", ")), nil)
		}
		uniq[canonical] = true
	}

	out := make([]string, 0, len(uniq))
	for s := range uniq {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// checkGuard evaluates the operation's guard over the cleaned arguments. A
// guard referencing an argument that is absent (necessarily an optional one,
// required arguments were enforced already) is skipped: guards bound what a
// value may be, not whether it is supplied.
func (v *PlanValidator) checkGuard(stepID int, provider, operation string, args map[string]any) error {
	expr, ok := v.guards[provider+"."+operation]
	if !ok {
		return nil
	}

	params := make(map[string]any, len(args))
	for _, varName := range expr.Vars() {
		value, present := args[varName]
		if !present {
			return nil
		}
		// govaluate arithmetic works on float64.
		switch n := value.(type) {
		case int:
			params[varName] = float64(n)
		case int64:
			params[varName] = float64(n)
		default:
			params[varName] = value
		}
	}

	result, err := expr.Evaluate(params)
	if err != nil {
		return castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: guard evaluation failed for %s.%s", stepID, provider, operation), err)
	}
	passed, ok := result.(bool)
	if !ok {
		return castellan.NewInternalError("validation",
			fmt.Sprintf("guard for %s.%s did not yield a boolean", provider, operation), nil)
	}
	if !passed {
		return castellan.NewPlanValidationError(
			fmt.Sprintf("step %d: arguments violate constraint %q for %s.%s",
				stepID, expr.String(), provider, operation), nil)
	}
	return nil
}

// asInt accepts native integers and whole-valued floats. JSON decoding yields
// float64 for every number, so 5 arrives as 5.0 and must round-trip losslessly;
// 5.5 must not.
func asInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	}
	return 0, false
}

func typeError(stepID int, name, expected string, value any) error {
	return castellan.NewPlanValidationError(
		fmt.Sprintf("step %d: argument %q must be a %s, got %T", stepID, name, expected, value), nil)
}
