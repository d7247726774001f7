// Package fingerprint derives stable content hashes for worker source trees.
// A fingerprint covers the files and every build option that shapes the
// output, so it can key caches of build results.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"

	"github.com/cuemby/burrow/pkg/bundler"
)

// Length is the hex length of a fingerprint: the first 16 characters of the
// SHA-256 digest.
const Length = 16

// Files hashes a source tree together with its build options. Identical
// inputs yield identical fingerprints regardless of map iteration order.
// Every field is length-prefixed so adjacent values cannot collide.
func Files(files map[string]string, opts bundler.Options) string {
	h := sha256.New()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		writeString(h, p)
		writeString(h, files[p])
	}

	// The tri-state bundle flag is normalized first: nil and true hash the
	// same because they build the same.
	writeString(h, "bundle="+strconv.FormatBool(opts.BundleEnabled()))
	writeString(h, "minify="+strconv.FormatBool(opts.Minify))
	writeString(h, "sourcemap="+strconv.FormatBool(opts.Sourcemap))
	writeString(h, "entryPoint="+opts.EntryPoint)

	externals := append([]string(nil), opts.Externals...)
	sort.Strings(externals)
	for _, e := range externals {
		writeString(h, "external="+e)
	}

	return hex.EncodeToString(h.Sum(nil))[:Length]
}

func writeString(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
