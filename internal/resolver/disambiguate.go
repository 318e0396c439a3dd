package resolver

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
)

// ErrDeclined is returned by a Disambiguator that has no answer for a component.
var ErrDeclined = errors.New("no disambiguation choice")

// Disambiguator picks one of several files matching the same component.
// Choose returns a 0-based index into candidates (file base names), or
// ErrDeclined.
type Disambiguator interface {
	Choose(component string, candidates []string) (int, error)
}

// Choices is a fixed, 1-based pick per component, as entered on the
// command line (--choose FL=2) or in the config file.
type Choices map[string]int

// Choose implements Disambiguator.
func (c Choices) Choose(component string, candidates []string) (int, error) {
	pick, ok := c[component]
	if !ok {
		return 0, ErrDeclined
	}
	if pick < 1 || pick > len(candidates) {
		return 0, fmt.Errorf("choice %d for %s: want 1-%d", pick, component, len(candidates))
	}
	return pick - 1, nil
}

// Chain tries each Disambiguator in order and returns the first answer
// that is not ErrDeclined. Nil entries are skipped.
type Chain []Disambiguator

// Choose implements Disambiguator.
func (c Chain) Choose(component string, candidates []string) (int, error) {
	for _, d := range c {
		if d == nil {
			continue
		}
		idx, err := d.Choose(component, candidates)
		if errors.Is(err, ErrDeclined) {
			continue
		}
		return idx, err
	}
	return 0, ErrDeclined
}

// defaultScriptTimeout bounds a single script evaluation.
const defaultScriptTimeout = time.Second

// ScriptDisambiguator evaluates a JavaScript expression with the globals
// `component` (string) and `candidates` (array of base names). The result
// is either a 0-based index or the chosen candidate name; null, undefined
// and -1 decline.
//
//	candidates.findIndex(function (c) { return c.indexOf("_final") >= 0 })
type ScriptDisambiguator struct {
	Source  string
	Timeout time.Duration
}

// NewScriptDisambiguator compiles src once to report syntax errors early.
func NewScriptDisambiguator(src string) (*ScriptDisambiguator, error) {
	if _, err := goja.Compile("disambiguate", src, false); err != nil {
		return nil, fmt.Errorf("compile disambiguation script: %w", err)
	}
	return &ScriptDisambiguator{Source: src, Timeout: defaultScriptTimeout}, nil
}

// Choose implements Disambiguator.
func (s *ScriptDisambiguator) Choose(component string, candidates []string) (int, error) {
	vm := goja.New()
	if err := vm.Set("component", component); err != nil {
		return 0, fmt.Errorf("set component: %w", err)
	}
	items := make([]any, len(candidates))
	for i, c := range candidates {
		items[i] = c
	}
	if err := vm.Set("candidates", vm.NewArray(items...)); err != nil {
		return 0, fmt.Errorf("set candidates: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("disambiguation script timed out")
	})
	defer timer.Stop()

	v, err := vm.RunString(s.Source)
	if err != nil {
		return 0, fmt.Errorf("evaluate disambiguation script for %s: %w", component, err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, ErrDeclined
	}

	switch x := v.Export().(type) {
	case int64:
		return indexResult(component, x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("disambiguation script for %s returned non-integer %v", component, x)
		}
		return indexResult(component, int64(x))
	case string:
		for i, c := range candidates {
			if c == x {
				return i, nil
			}
		}
		return 0, fmt.Errorf("disambiguation script for %s returned unknown candidate %q", component, x)
	default:
		return 0, fmt.Errorf("disambiguation script for %s returned %T, want index or name", component, x)
	}
}

func indexResult(component string, idx int64) (int, error) {
	if idx == -1 {
		return 0, ErrDeclined
	}
	if idx < 0 {
		return 0, fmt.Errorf("disambiguation script for %s returned negative index %d", component, idx)
	}
	return int(idx), nil
}
