package content

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filters evaluates row predicates such as `"biography" in tags`.
// Compiled programs are cached by expression string.
type Filters struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func NewFilters() *Filters {
	return &Filters{cache: make(map[string]*vm.Program)}
}

func (f *Filters) program(expression string) (*vm.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prog, ok := f.cache[expression]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(expression, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	f.cache[expression] = prog
	return prog, nil
}

// Match reports whether row satisfies expression. Row columns are the
// expression's variables.
func (f *Filters) Match(expression string, row Row) (bool, error) {
	prog, err := f.program(expression)
	if err != nil {
		return false, err
	}
	result, err := expr.Run(prog, map[string]any(row))
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("filter did not return bool")
	}
	return ok, nil
}

// Apply keeps the rows matching expression. An empty expression keeps
// every row.
func (f *Filters) Apply(expression string, rows []Row) ([]Row, error) {
	if expression == "" {
		return rows, nil
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		ok, err := f.Match(expression, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}
