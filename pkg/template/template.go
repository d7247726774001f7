// Package template implements slot interpolation for worker skeletons.
// Templates carry files whose contents embed {{name}} placeholders; every
// placeholder must correspond to a declared slot, and interpolation replaces
// placeholders with caller values or slot defaults. Substitution is purely
// textual; source is never parsed.
package template

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/containerd/errdefs"

	"github.com/cuemby/burrow/pkg/types"
)

// slotPattern matches {{name}} where name is an identifier. No nesting, no
// expressions.
var slotPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// ExtractSlotNames returns the sorted set of placeholder names occurring
// anywhere in the file tree.
func ExtractSlotNames(files map[string]string) []string {
	seen := map[string]bool{}
	for _, content := range files {
		for _, match := range slotPattern.FindAllStringSubmatch(content, -1) {
			seen[match[1]] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a template at write time: slot declarations must be unique
// and every placeholder in the files must be declared. The error names the
// first offender in sorted order.
func Validate(tpl *types.Template) error {
	declared := map[string]bool{}
	for _, slot := range tpl.Slots {
		if declared[slot.Name] {
			return fmt.Errorf("duplicate slot %q: %w", slot.Name, errdefs.ErrInvalidArgument)
		}
		declared[slot.Name] = true
	}

	for _, name := range ExtractSlotNames(tpl.Files) {
		if !declared[name] {
			return fmt.Errorf("slot %q used in files but not declared: %w", name, errdefs.ErrInvalidArgument)
		}
	}
	return nil
}

// Interpolate substitutes placeholders in the template's files. A caller
// value wins over the slot default; a placeholder with neither fails with
// the first unsatisfied slot named. Files are scanned in sorted path order
// so the failing slot is deterministic.
func Interpolate(tpl *types.Template, values map[string]string) (map[string]string, error) {
	defaults := map[string]*string{}
	for _, slot := range tpl.Slots {
		defaults[slot.Name] = slot.Default
	}

	resolve := func(name string) (string, error) {
		if v, ok := values[name]; ok {
			return v, nil
		}
		if d, ok := defaults[name]; ok && d != nil {
			return *d, nil
		}
		return "", fmt.Errorf("slot %q has no value and no default: %w", name, errdefs.ErrInvalidArgument)
	}

	paths := make([]string, 0, len(tpl.Files))
	for p := range tpl.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make(map[string]string, len(tpl.Files))
	for _, p := range paths {
		var firstErr error
		out[p] = slotPattern.ReplaceAllStringFunc(tpl.Files[p], func(match string) string {
			name := slotPattern.FindStringSubmatch(match)[1]
			v, err := resolve(name)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return v
		})
		if firstErr != nil {
			return nil, firstErr
		}
	}
	return out, nil
}

// Metadata projects a template into its listing shape. Slot names keep
// declaration order.
func Metadata(tpl *types.Template) types.TemplateMetadata {
	names := make([]string, 0, len(tpl.Slots))
	for _, slot := range tpl.Slots {
		names = append(names, slot.Name)
	}
	return types.TemplateMetadata{
		ID:          tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		SlotNames:   names,
	}
}
