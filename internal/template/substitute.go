// Package template expands ${...} placeholders in console command lines.
package template

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// varPattern matches ${var}, ${env:VAR} and ${fn(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Vars holds the variables set with the console's set command.
type Vars map[string]string

// Names returns the variable names in order.
func (v Vars) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every placeholder in text. Unresolved placeholders are
// all reported in one error.
func Substitute(text string, vars Vars) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs *multierror.Error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]

		if strings.HasPrefix(name, "env:") {
			if val, ok := os.LookupEnv(name[4:]); ok {
				return val
			}
			errs = multierror.Append(errs, errors.Errorf("env var %q not set", name[4:]))
			return match
		}

		if val, ok, err := evalFunction(name); ok {
			if err != nil {
				errs = multierror.Append(errs, err)
				return match
			}
			return val
		}

		if val, ok := vars[name]; ok {
			return val
		}
		errs = multierror.Append(errs, errors.Errorf("variable %q not set", name))
		return match
	})

	if err := errs.ErrorOrNil(); err != nil {
		return "", err
	}
	return result, nil
}
