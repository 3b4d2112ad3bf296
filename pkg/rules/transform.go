package rules

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
)

// DefaultTransformBudget bounds how long a Transform script may run before
// its goja runtime is interrupted.
const DefaultTransformBudget = 50 * time.Millisecond

// runTransform executes script's `transform(payload)` function in a fresh
// goja.Runtime, isolated per call, and returns the function's return value.
// A script that throws, times out, or has no transform function produces an
// error; the caller treats that as a failed-and-skipped action, not a fatal
// one (see Engine.applyAction).
func runTransform(script string, payload interface{}, budget time.Duration) (interface{}, error) {
	if budget <= 0 {
		budget = DefaultTransformBudget
	}

	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return nil, buserrors.Wrap(buserrors.ErrCodeValidation, "transform script failed to compile", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, buserrors.New(buserrors.ErrCodeValidation, "transform script does not define a transform(payload) function")
	}

	timer := time.AfterFunc(budget, func() {
		vm.Interrupt("transform exceeded execution budget")
	})
	defer timer.Stop()

	result, err := fn(goja.Undefined(), vm.ToValue(payload))
	if err != nil {
		return nil, buserrors.Wrap(buserrors.ErrCodeValidation, "transform script execution failed", err)
	}

	exported := result.Export()
	if exported == nil {
		return nil, fmt.Errorf("transform returned no value")
	}
	return exported, nil
}
