package platform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
)

// Record ids appear as segments of composite storage keys and stub names,
// so ':' and '/' are structurally excluded by the pattern.
var idPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,62}[a-z0-9])?$`)

func validateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s id %q: must be 1-64 lowercase alphanumerics, '.', '_' or '-', starting and ending alphanumeric: %w",
			kind, id, errdefs.ErrInvalidArgument)
	}
	return nil
}

func validateFiles(files map[string]string) error {
	if len(files) == 0 {
		return fmt.Errorf("at least one source file is required: %w", errdefs.ErrInvalidArgument)
	}
	for path := range files {
		if path == "" {
			return fmt.Errorf("empty file path: %w", errdefs.ErrInvalidArgument)
		}
		if strings.HasPrefix(path, "/") {
			return fmt.Errorf("file path %q: absolute paths are not allowed: %w", path, errdefs.ErrInvalidArgument)
		}
		for _, seg := range strings.Split(path, "/") {
			if seg == "" || seg == "." || seg == ".." {
				return fmt.Errorf("file path %q: empty, '.' and '..' segments are not allowed: %w", path, errdefs.ErrInvalidArgument)
			}
		}
	}
	return nil
}
