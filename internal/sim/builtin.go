package sim

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/efficientgo/core/errors"
)

//go:embed scenarios/*.yaml
var builtinFS embed.FS

// Builtin returns the scenarios compiled into the binary, sorted by name.
func Builtin() ([]*Scenario, error) {
	names, err := fs.Glob(builtinFS, "scenarios/*.yaml")
	if err != nil {
		return nil, errors.Wrap(err, "list builtin scenarios")
	}
	sort.Strings(names)

	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		sc, err := Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "builtin %s", name)
		}
		if sc.Name == "" {
			sc.Name = strings.TrimSuffix(path.Base(name), ".yaml")
		}
		out = append(out, sc)
	}
	return out, nil
}

// BuiltinNamed returns the builtin scenario with the given name.
func BuiltinNamed(name string) (*Scenario, error) {
	all, err := Builtin()
	if err != nil {
		return nil, err
	}
	for _, sc := range all {
		if sc.Name == name {
			return sc, nil
		}
	}
	return nil, errors.Newf("no builtin scenario %q", name)
}
