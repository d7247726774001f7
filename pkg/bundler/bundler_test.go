package bundler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleEnabled(t *testing.T) {
	assert.True(t, Options{}.BundleEnabled())

	enabled := true
	assert.True(t, Options{Bundle: &enabled}.BundleEnabled())

	disabled := false
	assert.False(t, Options{Bundle: &disabled}.BundleEnabled())
}

func TestResolveEntryExplicit(t *testing.T) {
	files := map[string]string{
		"src/index.ts": "",
		"lib/util.ts":  "",
	}

	entry, err := ResolveEntry(files, "lib/util.ts")
	require.NoError(t, err)
	assert.Equal(t, "lib/util.ts", entry)

	_, err = ResolveEntry(files, "missing.ts")
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Message, "missing.ts")
}

func TestResolveEntryCandidates(t *testing.T) {
	files := map[string]string{
		"src/index.ts": "",
		"src/index.js": "",
		"index.ts":     "",
		"index.js":     "",
	}

	for _, expect := range []string{"src/index.ts", "src/index.js", "index.ts", "index.js"} {
		entry, err := ResolveEntry(files, "")
		require.NoError(t, err)
		assert.Equal(t, expect, entry)
		delete(files, expect)
	}

	files["readme.md"] = "not code"
	_, err := ResolveEntry(files, "")
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Message, "readme.md")
}

func TestResolveEntryPackageJSON(t *testing.T) {
	files := map[string]string{
		"package.json": `{"main": "app.js"}`,
		"app.js":       "",
		"src/index.ts": "",
	}

	entry, err := ResolveEntry(files, "")
	require.NoError(t, err)
	assert.Equal(t, "app.js", entry, "package.json main wins over candidates")

	files["package.json"] = `{"main": "gone.js"}`
	_, err = ResolveEntry(files, "")
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Message, "gone.js")

	files["package.json"] = `{"name": "no-main"}`
	entry, err = ResolveEntry(files, "")
	require.NoError(t, err)
	assert.Equal(t, "src/index.ts", entry, "absent main falls back to candidates")

	files["package.json"] = `{not json`
	_, err = ResolveEntry(files, "")
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "package.json", be.File)
}

func TestBuildErrorFormat(t *testing.T) {
	err := &BuildError{Message: "unexpected token", File: "src/index.ts", Line: 3}
	assert.Equal(t, "build failed: src/index.ts:3: unexpected token", err.Error())

	err = &BuildError{Message: "no entry point"}
	assert.Equal(t, "build failed: no entry point", err.Error())
}

func TestFuncAdapter(t *testing.T) {
	var gotEntry string
	b := Func(func(ctx context.Context, files map[string]string, opts Options) (*Result, error) {
		entry, err := ResolveEntry(files, opts.EntryPoint)
		if err != nil {
			return nil, err
		}
		gotEntry = entry
		return &Result{MainModule: entry, Modules: files}, nil
	})

	res, err := b.Build(context.Background(), map[string]string{"index.js": "export default 1"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "index.js", res.MainModule)
	assert.Equal(t, "index.js", gotEntry)
}
