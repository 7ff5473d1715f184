package store

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/descentlab/descent/internal/opt"
)

func TestRunMetaJSONRoundTrip(t *testing.T) {
	meta := testMeta("run-json")
	meta.Termination = "MaxItersReached"

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var restored RunMeta
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if restored.RunID != meta.RunID {
		t.Errorf("RunID = %q, want %q", restored.RunID, meta.RunID)
	}
	if restored.Termination != meta.Termination {
		t.Errorf("Termination = %q, want %q", restored.Termination, meta.Termination)
	}
	if float64(restored.BestCost) != float64(meta.BestCost) {
		t.Errorf("BestCost = %v, want %v", restored.BestCost, meta.BestCost)
	}
}

func TestRunMetaInfiniteBestCostSurvivesJSON(t *testing.T) {
	cfg := opt.Config{Function: "sphere", Solver: "bfgs"}
	cfg.ApplyDefaults()
	meta := NewRunMeta("run-inf", cfg)

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var restored RunMeta
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !math.IsInf(float64(restored.BestCost), 1) {
		t.Fatalf("BestCost = %v, want +Inf", restored.BestCost)
	}
}

func TestRunMetaValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RunMeta)
		field  string
	}{
		{name: "empty run id", mutate: func(m *RunMeta) { m.RunID = "" }, field: "RunID"},
		{name: "zero created at", mutate: func(m *RunMeta) { m.CreatedAt = time.Time{} }, field: "CreatedAt"},
		{name: "bad config", mutate: func(m *RunMeta) { m.Config.Solver = "newton" }, field: "Config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := testMeta("run-validate")
			tc.mutate(meta)

			var verr *ValidationError
			if err := meta.Validate(); !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			} else if verr.Field != tc.field {
				t.Fatalf("ValidationError.Field = %q, want %q", verr.Field, tc.field)
			}
		})
	}

	if err := testMeta("run-valid").Validate(); err != nil {
		t.Fatalf("Validate() on valid meta = %v", err)
	}
}

func TestRunMetaIsCompatible(t *testing.T) {
	meta := testMeta("run-compat")

	same := meta.Config
	if err := meta.IsCompatible(same); err != nil {
		t.Fatalf("IsCompatible with identical config = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*opt.Config)
		field  string
	}{
		{name: "different function", mutate: func(c *opt.Config) { c.Function = "ackley" }, field: "Function"},
		{name: "different solver", mutate: func(c *opt.Config) { c.Solver = "cmaes" }, field: "Solver"},
		{name: "different dimension", mutate: func(c *opt.Config) { c.X0 = []float64{1, 2, 3} }, field: "X0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := meta.Config
			cfg.X0 = append([]float64(nil), meta.Config.X0...)
			tc.mutate(&cfg)

			var cerr *CompatibilityError
			if err := meta.IsCompatible(cfg); !errors.As(err, &cerr) {
				t.Fatalf("IsCompatible() = %v, want CompatibilityError", err)
			} else if cerr.Field != tc.field {
				t.Fatalf("CompatibilityError.Field = %q, want %q", cerr.Field, tc.field)
			}
		})
	}
}

func TestNotFoundErrorIs(t *testing.T) {
	err := error(&NotFoundError{RunID: "abc"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("NotFoundError does not match ErrNotFound")
	}
	if errors.Is(errors.New("other"), ErrNotFound) {
		t.Fatal("unrelated error matches ErrNotFound")
	}
}
