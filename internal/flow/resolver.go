package flow

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/registry"
)

// Resolution is the outcome of resolving one product flow
type Resolution struct {
	ProductID string
	Steps     []core.MachineStep
	Warnings  []string
}

// Usable reports whether the flow produced at least one step
func (r Resolution) Usable() bool {
	return len(r.Steps) > 0
}

// Resolve turns a flow definition into a concrete step sequence using
// the product's default configuration for conditional entries.
func Resolve(def catalog.ProductFlowDefinition, reg *registry.Registry) Resolution {
	return ResolveWithConfig(def, reg, nil)
}

// ResolveWithConfig resolves a flow definition. Each entry is looked up
// by exact step id, then by the first occurrence of a base id. Unknown
// machines are skipped with a warning. values overlay the product's
// defaultConfig when evaluating "when" conditions.
func ResolveWithConfig(def catalog.ProductFlowDefinition, reg *registry.Registry, values map[string]string) Resolution {
	res := Resolution{
		ProductID: def.ProductID,
		Steps:     make([]core.MachineStep, 0, len(def.Flow)),
	}

	env := map[string]interface{}{"config": mergeConfig(def.DefaultConfig, values)}

	for i, entry := range def.Flow {
		if entry.When != "" {
			include, err := evaluate(entry.When, env)
			if err != nil {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("flow[%d] %s: condition skipped: %v", i, entry.MachineID, err))
				continue
			}
			if !include {
				continue
			}
		}

		step, ok := lookup(reg, entry.MachineID)
		if !ok {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("flow[%d]: unknown machine %q", i, entry.MachineID))
			continue
		}

		res.Steps = append(res.Steps, core.CloneStep(step, core.StepOverrides{
			Name:     entry.Name,
			Duration: entry.Duration,
		}))
	}

	for _, w := range res.Warnings {
		log.Warn().Str("productId", def.ProductID).Msg(w)
	}
	if !res.Usable() {
		log.Warn().
			Str("productId", def.ProductID).
			Int("entries", len(def.Flow)).
			Msg("Flow resolved to zero steps")
	}

	return res
}

func lookup(reg *registry.Registry, machineID string) (core.MachineStep, bool) {
	if step, ok := reg.ByID(machineID); ok {
		return step, true
	}
	return reg.FirstByBaseID(machineID)
}

func evaluate(condition string, env map[string]interface{}) (bool, error) {
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile %q: %w", condition, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", condition, err)
	}
	include, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not a boolean", condition)
	}
	return include, nil
}

func mergeConfig(defaults, values map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(values))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return merged
}
