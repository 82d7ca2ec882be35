package integrity

import (
	"context"
	"errors"
	"sync"

	"fieldid/internal/platform"
	"fieldid/internal/policy"
)

// Evaluator decides on collected signals.
type Evaluator interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// installedPackages probes pkgs concurrently and returns those present, in
// input order. A probe that errors or panics counts as absent.
func installedPackages(ctx context.Context, probe platform.Probe, pkgs []string) []string {
	found := make([]bool, len(pkgs))
	var wg sync.WaitGroup
	for i, pkg := range pkgs {
		wg.Add(1)
		go func(i int, pkg string) {
			defer wg.Done()
			defer func() { _ = recover() }()
			ok, err := probe.PackageInstalled(ctx, pkg)
			found[i] = err == nil && ok
		}(i, pkg)
	}
	wg.Wait()

	present := make([]string, 0)
	for i, ok := range found {
		if ok {
			present = append(present, pkgs[i])
		}
	}
	return present
}

// signal returns v, or "" when the platform cannot answer.
func signal(v string, err error) (string, error) {
	if errors.Is(err, platform.ErrUnsupported) {
		return "", nil
	}
	return v, err
}
