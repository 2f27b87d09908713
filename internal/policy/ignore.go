package policy

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"qbt_manager/internal/model"
)

// IgnoreEnv is the environment ignore expressions are evaluated against.
type IgnoreEnv struct {
	Name      string
	Hash      string
	State     string
	Category  string
	Tracker   string
	AddedDays float64
	Messages  []string
}

// Ignorer exempts torrents matching any of its expressions from cleanup and
// limit management.
type Ignorer struct {
	programs []*vm.Program
}

// CompileIgnores compiles the expressions once; each must yield a bool.
func CompileIgnores(expressions []string) (*Ignorer, error) {
	ig := &Ignorer{}
	for _, e := range expressions {
		p, err := expr.Compile(e, expr.Env(IgnoreEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile ignore expression %q: %w", e, err)
		}
		ig.programs = append(ig.programs, p)
	}
	return ig, nil
}

// Ignored reports whether any expression matches t.
func (ig *Ignorer) Ignored(t model.Torrent, now time.Time) (bool, error) {
	if ig == nil || len(ig.programs) == 0 {
		return false, nil
	}
	env := newIgnoreEnv(t, now)
	for _, p := range ig.programs {
		result, err := expr.Run(p, env)
		if err != nil {
			return false, fmt.Errorf("run ignore expression: %w", err)
		}
		matched, ok := result.(bool)
		if !ok {
			return false, fmt.Errorf("ignore expression returned %T, want bool", result)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func newIgnoreEnv(t model.Torrent, now time.Time) IgnoreEnv {
	env := IgnoreEnv{
		Name:      t.Name,
		Hash:      t.Hash,
		State:     string(t.State),
		Category:  t.Category,
		Tracker:   t.Tracker,
		AddedDays: t.Age(now).Hours() / 24,
	}
	for _, tr := range t.Trackers {
		if tr.Message != "" {
			env.Messages = append(env.Messages, tr.Message)
		}
	}
	return env
}
