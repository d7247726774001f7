/*
Package bundler compiles worker source trees into deployable module sets.

A source tree is a map of relative paths to file contents; it exists only in
memory and never touches disk. The package defines the Bundler contract and
ships an esbuild-backed implementation.

# Architecture

	files map[path]content
	        |
	        v
	ResolveEntry ── explicit option > package.json "main" > src/index.ts,
	        |       src/index.js, index.ts, index.js
	        v
	EsbuildBundler.Build ── vfs plugin resolves imports inside the map
	        |
	        v
	Result{MainModule, Modules, Warnings}

Builds are deterministic: the same files and options always produce the same
MainModule and Modules mapping. Callers key build caches on a content hash
and rely on this.

# Usage

	res, err := bundler.NewEsbuild().Build(ctx, files, bundler.Options{Minify: true})
	if err != nil {
	        var be *bundler.BuildError
	        if errors.As(err, &be) {
	                // compilation failure, not an infrastructure error
	        }
	}

# Thread Safety

EsbuildBundler is stateless; a single instance may serve concurrent builds.
*/
package bundler
