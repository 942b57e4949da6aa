package delivery

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the environment a filter expression is evaluated in.
type Env struct {
	Mode   string `expr:"mode"`
	Sender string `expr:"sender"`
	Remote string `expr:"remote"`
	Size   int    `expr:"size"`
	Text   string `expr:"text"`
}

// Filter is a compiled boolean expression deciding whether a message is
// delivered. A nil *Filter allows everything.
type Filter struct {
	src     string
	program *vm.Program
}

// CompileFilter compiles src. An empty src yields a nil filter.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", src, err)
	}
	return &Filter{src: src, program: program}, nil
}

// String returns the filter source.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Allow evaluates the filter against env.
func (f *Filter) Allow(env Env) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", f.src, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter %q: result %T is not a bool", f.src, out)
	}
	return ok, nil
}
