// Package config flattens layered worker configuration. Three layers apply,
// from general to specific: platform defaults, tenant, worker. Each field
// has its own merge rule; Resolve applies them all in one pass.
package config

import "github.com/cuemby/burrow/pkg/types"

// DefaultCompatibilityDate anchors workers where no layer declares one.
const DefaultCompatibilityDate = "2026-01-24"

// Resolve computes the effective configuration a worker runs with. Any layer
// may be nil. Merge rules per field:
//
//   - Env: shallow merge, the most specific layer wins per key
//   - CompatibilityDate, GlobalOutbound: most specific defined value
//   - CompatibilityFlags: concatenated general to specific, repeats dropped
//   - Limits: each bound resolves independently, most specific wins
//   - Tails: concatenated general to specific, duplicates preserved
func Resolve(defaults, tenant, worker *types.ConfigBundle) types.EffectiveConfig {
	layers := []*types.ConfigBundle{defaults, tenant, worker}

	eff := types.EffectiveConfig{
		Env:               map[string]string{},
		CompatibilityDate: DefaultCompatibilityDate,
	}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		for k, v := range layer.Env {
			eff.Env[k] = v
		}
	}

	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil && layers[i].CompatibilityDate != "" {
			eff.CompatibilityDate = layers[i].CompatibilityDate
			break
		}
	}
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i] != nil && layers[i].GlobalOutbound != "" {
			eff.GlobalOutbound = layers[i].GlobalOutbound
			break
		}
	}

	seen := map[string]bool{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		for _, flag := range layer.CompatibilityFlags {
			if seen[flag] {
				continue
			}
			seen[flag] = true
			eff.CompatibilityFlags = append(eff.CompatibilityFlags, flag)
		}
	}

	var cpuMs, subrequests *int
	for _, layer := range layers {
		if layer == nil || layer.Limits == nil {
			continue
		}
		if layer.Limits.CPUMs != nil {
			v := *layer.Limits.CPUMs
			cpuMs = &v
		}
		if layer.Limits.Subrequests != nil {
			v := *layer.Limits.Subrequests
			subrequests = &v
		}
	}
	if cpuMs != nil || subrequests != nil {
		eff.Limits = &types.Limits{CPUMs: cpuMs, Subrequests: subrequests}
	}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		eff.Tails = append(eff.Tails, layer.Tails...)
	}

	return eff
}
