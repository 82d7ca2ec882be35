// Package policy evaluates device integrity signals with a rego policy.
//
// The default policy is embedded; a deployment can replace it with a file
// that defines the same data.fieldid.integrity.result document. Only a small
// set of pure builtins is available to policies.
package policy

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.fieldid.integrity.result"

//go:embed integrity.rego
var defaultPolicy []byte

// ErrEmptyResult is returned when the policy produces no result document.
var ErrEmptyResult = errors.New("empty policy result")

// Markers are the configured emulator indicators.
type Markers struct {
	Arch              []string `json:"arch"`
	ModelPrefixes     []string `json:"model_prefixes"`
	SerialPrefixes    []string `json:"serial_prefixes"`
	IPs               []string `json:"ips"`
	CarrierSignatures []string `json:"carrier_signatures"`
}

// Input is the signal document handed to the policy.
type Input struct {
	OS               string   `json:"os"`
	RootSignal       bool     `json:"root_signal"`
	RootPackages     []string `json:"root_packages"`
	DeviceType       string   `json:"device_type"`
	Architecture     string   `json:"architecture"`
	Model            string   `json:"model"`
	Serial           string   `json:"serial"`
	IPAddress        string   `json:"ip_address"`
	Carrier          string   `json:"carrier"`
	EmulatorPackages []string `json:"emulator_packages"`
	Markers          Markers  `json:"markers"`
}

// Decision is the policy result.
type Decision struct {
	Rooted          bool     `json:"rooted"`
	Emulator        bool     `json:"emulator"`
	TamperReasons   []string `json:"tamper_reasons"`
	EmulatorReasons []string `json:"emulator_reasons"`
}

// Engine holds a prepared policy query.
type Engine struct {
	query rego.PreparedEvalQuery
	hash  string
}

// New prepares the embedded policy, or the policy at path when path is set.
func New(ctx context.Context, path string) (*Engine, error) {
	source := defaultPolicy
	name := "integrity.rego"
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		source = data
		name = path
	}
	return compile(ctx, name, source)
}

func compile(ctx context.Context, name string, source []byte) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module(name, string(source)),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(source)
	return &Engine{query: prepared, hash: hex.EncodeToString(sum[:])}, nil
}

// Hash returns the SHA-256 of the policy source.
func (e *Engine) Hash() string {
	return e.hash
}

// Evaluate runs the policy against in.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if e == nil {
		return Decision{}, errors.New("policy engine is nil")
	}
	normalizeInput(&in)

	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Decision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, ErrEmptyResult
	}

	payload, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, fmt.Errorf("decode policy result: %w", err)
	}
	sort.Strings(d.TamperReasons)
	sort.Strings(d.EmulatorReasons)
	return d, nil
}

// nil slices encode as null, which count() rejects under strict errors.
func normalizeInput(in *Input) {
	for _, s := range []*[]string{
		&in.RootPackages, &in.EmulatorPackages,
		&in.Markers.Arch, &in.Markers.ModelPrefixes, &in.Markers.SerialPrefixes,
		&in.Markers.IPs, &in.Markers.CarrierSignatures,
	} {
		if *s == nil {
			*s = []string{}
		}
	}
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
