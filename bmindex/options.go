package bmindex

import (
	"slices"
	"strings"

	"mit.edu/dsg/bmindex/common"
)

// Options holds the parsed storage options of a bitmap index. None are defined yet.
type Options struct{}

// ParseOptions parses "name=value" storage options. When validate is set, any option is rejected, since the index
// defines none; otherwise unknown options are ignored.
func ParseOptions(raw []string, validate bool) (*Options, error) {
	if !validate {
		return &Options{}, nil
	}
	var unknown []string
	for _, opt := range raw {
		name, _, _ := strings.Cut(opt, "=")
		unknown = append(unknown, strings.TrimSpace(name))
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, common.NewError(common.UnknownOptionError, "unrecognized parameter %q",
			strings.Join(unknown, ", "))
	}
	return &Options{}, nil
}
