package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// EsbuildBundler compiles worker source trees with the esbuild Go API. The
// source tree never touches disk: a resolver plugin serves every import from
// the in-memory file map. Output is ESM under a virtual dist/ directory.
type EsbuildBundler struct{}

// NewEsbuild creates the esbuild-backed bundler
func NewEsbuild() *EsbuildBundler {
	return &EsbuildBundler{}
}

// Build implements Bundler. With bundling enabled (the default) the entry's
// import graph collapses into one module; with bundling disabled every
// script file is transpiled in place as its own module.
func (e *EsbuildBundler) Build(ctx context.Context, files map[string]string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := ResolveEntry(files, opts.EntryPoint)
	if err != nil {
		return nil, err
	}

	entryPoints := []string{entry}
	if !opts.BundleEnabled() {
		entryPoints = scriptFiles(files, entry)
	}

	sourcemap := api.SourceMapNone
	if opts.Sourcemap {
		sourcemap = api.SourceMapInline
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		Bundle:            opts.BundleEnabled(),
		Write:             false,
		Metafile:          true,
		Outdir:            "dist",
		AbsWorkingDir:     "/",
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ESNext,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		Sourcemap:         sourcemap,
		External:          opts.Externals,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{vfsPlugin(files, opts.Externals)},
	})

	if len(result.Errors) > 0 {
		return nil, buildError(result.Errors)
	}

	var meta struct {
		Outputs map[string]struct {
			EntryPoint string `json:"entryPoint"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("parse build metafile: %w", err)
	}

	mainModule := ""
	for out, info := range meta.Outputs {
		if strings.TrimPrefix(info.EntryPoint, "vfs:") == entry {
			mainModule = out
			break
		}
	}
	if mainModule == "" {
		return nil, &BuildError{Message: fmt.Sprintf("no output produced for entry %q", entry)}
	}

	modules := make(map[string]string, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		modules[strings.TrimPrefix(f.Path, "/")] = string(f.Contents)
	}

	return &Result{
		MainModule: mainModule,
		Modules:    modules,
		Warnings:   formatMessages(result.Warnings),
	}, nil
}

// scriptFiles lists every transpilable file for non-bundled builds, entry
// included, in sorted order.
func scriptFiles(files map[string]string, entry string) []string {
	var out []string
	seenEntry := false
	for p := range files {
		switch path.Ext(p) {
		case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs":
			out = append(out, p)
			if p == entry {
				seenEntry = true
			}
		}
	}
	if !seenEntry {
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}

// resolveSuffixes are tried in order when an import has no exact match.
var resolveSuffixes = []string{"", ".ts", ".tsx", ".js", ".jsx", ".mjs", ".json", "/index.ts", "/index.js"}

func lookup(files map[string]string, base string) (string, bool) {
	for _, suffix := range resolveSuffixes {
		if _, ok := files[base+suffix]; ok {
			return base + suffix, true
		}
	}
	return "", false
}

// vfsPlugin resolves and loads every import from the in-memory file map
// under the "vfs" namespace. Relative imports are joined against the
// importer's directory; bare specifiers resolve only if present verbatim in
// the tree or declared external.
func vfsPlugin(files map[string]string, externals []string) api.Plugin {
	external := make(map[string]bool, len(externals))
	for _, e := range externals {
		external[e] = true
	}

	return api.Plugin{
		Name: "vfs",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if external[args.Path] {
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				}
				base := args.Path
				if strings.HasPrefix(base, "./") || strings.HasPrefix(base, "../") {
					dir := ""
					if args.Importer != "" {
						dir = path.Dir(args.Importer)
					}
					base = path.Join(dir, base)
				}
				if resolved, ok := lookup(files, base); ok {
					return api.OnResolveResult{Path: resolved, Namespace: "vfs"}, nil
				}
				// Fall through to esbuild's default resolution, which
				// reports the unresolved import.
				return api.OnResolveResult{}, nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "vfs"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				content, ok := files[args.Path]
				if !ok {
					return api.OnLoadResult{}, fmt.Errorf("no such file: %s", args.Path)
				}
				loader := loaderFor(args.Path)
				return api.OnLoadResult{Contents: &content, Loader: loader}, nil
			})
		},
	}
}

func loaderFor(p string) api.Loader {
	switch path.Ext(p) {
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	case ".txt":
		return api.LoaderText
	default:
		return api.LoaderJS
	}
}

func buildError(messages []api.Message) *BuildError {
	first := messages[0]
	be := &BuildError{Message: first.Text}
	if first.Location != nil {
		be.File = strings.TrimPrefix(first.Location.File, "vfs:")
		be.Line = first.Location.Line
	}
	if len(messages) > 1 {
		be.Stack = formatMessages(messages)
	}
	return be
}

func formatMessages(messages []api.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d: %s", strings.TrimPrefix(m.Location.File, "vfs:"), m.Location.Line, m.Text))
		} else {
			out = append(out, m.Text)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
