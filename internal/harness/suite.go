package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure represents one scenario that did not pass.
type SuiteFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Scenario     string `json:"scenario,omitempty"`
	Error        string `json:"error"`
}

// suiteParallelism bounds concurrently running scenarios. Each scenario owns
// an in-memory database, so they share nothing.
const suiteParallelism = 4

// ScenarioFiles lists the scenario files (*.yaml, *.yml) directly under dir
// in lexical order. Subdirectories such as golden/ are not scanned.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario under dir.
//
// For each scenario file:
// 1. Load and validate the scenario
// 2. Run it via harness.Run
// 3. Collect the outcome
//
// A scenario that fails to load or run is reported as a failure, not as an
// error. The returned error is reserved for an unreadable directory or a
// cancelled context.
func RunDir(ctx context.Context, dir string, opts ...Option) (*SuiteResult, error) {
	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	failures := make([]*SuiteFailure, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(suiteParallelism)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			failures[i] = runFile(path, opts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SuiteResult{Total: len(paths)}
	for _, f := range failures {
		if f == nil {
			result.Passed++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, *f)
	}
	return result, nil
}

func runFile(path string, opts ...Option) *SuiteFailure {
	scenario, err := LoadScenario(path)
	if err != nil {
		return &SuiteFailure{
			ScenarioPath: path,
			Error:        fmt.Sprintf("failed to load scenario: %v", err),
		}
	}

	result, err := Run(scenario, opts...)
	if err != nil {
		return &SuiteFailure{
			ScenarioPath: path,
			Scenario:     scenario.Name,
			Error:        fmt.Sprintf("scenario execution failed: %v", err),
		}
	}

	if !result.Pass {
		return &SuiteFailure{
			ScenarioPath: path,
			Scenario:     scenario.Name,
			Error:        fmt.Sprintf("scenario assertions failed: %v", result.Errors),
		}
	}
	return nil
}
