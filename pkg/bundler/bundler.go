package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Options controls a single build. The zero value means: bundle, no
// minification, no sourcemap, entry point resolved from the file tree.
type Options struct {
	Bundle     *bool    `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Minify     bool     `json:"minify,omitempty" yaml:"minify,omitempty"`
	Sourcemap  bool     `json:"sourcemap,omitempty" yaml:"sourcemap,omitempty"`
	EntryPoint string   `json:"entryPoint,omitempty" yaml:"entryPoint,omitempty"`
	Externals  []string `json:"externals,omitempty" yaml:"externals,omitempty"`
}

// BundleEnabled reports the effective bundle flag; unset defaults to true.
func (o Options) BundleEnabled() bool {
	return o.Bundle == nil || *o.Bundle
}

// Result is the output of one successful build. Modules maps output paths to
// compiled content; MainModule names the entry's output. Warnings are
// advisory and excluded from determinism guarantees.
type Result struct {
	MainModule string            `json:"mainModule"`
	Modules    map[string]string `json:"modules"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Bundler compiles a source file tree into a module set. Implementations
// must be deterministic: identical files and options produce an identical
// MainModule and Modules mapping.
type Bundler interface {
	Build(ctx context.Context, files map[string]string, opts Options) (*Result, error)
}

// Func adapts a plain function to the Bundler interface.
type Func func(ctx context.Context, files map[string]string, opts Options) (*Result, error)

// Build implements Bundler
func (f Func) Build(ctx context.Context, files map[string]string, opts Options) (*Result, error) {
	return f(ctx, files, opts)
}

// BuildError reports a compilation failure: syntax errors, unresolvable
// imports, or a missing entry point. Stack carries every formatted compiler
// message when more than one was produced.
type BuildError struct {
	Message string   `json:"message"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Stack   []string `json:"stack,omitempty"`
}

func (e *BuildError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("build failed: %s:%d: %s", e.File, e.Line, e.Message)
	}
	return "build failed: " + e.Message
}

// entry point candidates tried in order when neither Options.EntryPoint nor
// package.json designates one
var entryCandidates = []string{
	"src/index.ts",
	"src/index.js",
	"index.ts",
	"index.js",
}

// ResolveEntry determines the entry point for a file tree: an explicit
// option wins, then the package.json "main" field, then well-known paths.
func ResolveEntry(files map[string]string, entryPoint string) (string, error) {
	if entryPoint != "" {
		if _, ok := files[entryPoint]; !ok {
			return "", &BuildError{Message: fmt.Sprintf("entry point %q not in files", entryPoint)}
		}
		return entryPoint, nil
	}

	if pkg, ok := files["package.json"]; ok {
		var manifest struct {
			Main string `json:"main"`
		}
		if err := json.Unmarshal([]byte(pkg), &manifest); err != nil {
			return "", &BuildError{Message: "invalid package.json: " + err.Error(), File: "package.json"}
		}
		if manifest.Main != "" {
			if _, ok := files[manifest.Main]; !ok {
				return "", &BuildError{Message: fmt.Sprintf("package.json main %q not in files", manifest.Main)}
			}
			return manifest.Main, nil
		}
	}

	for _, candidate := range entryCandidates {
		if _, ok := files[candidate]; ok {
			return candidate, nil
		}
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return "", &BuildError{Message: fmt.Sprintf("no entry point found in %v", paths)}
}
