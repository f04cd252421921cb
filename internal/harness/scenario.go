package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/testutil"
)

// Scenario is one end-to-end replay test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is the fixed run ID. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Backend is "coordinate" (default) or "locator".
	Backend string `yaml:"backend,omitempty"`

	// Captcha is "manual" (default) or "auto".
	Captcha string `yaml:"captcha,omitempty"`

	// CaptchaSolves is what the simulated solver reports under auto.
	CaptchaSolves bool `yaml:"captcha_solves,omitempty"`

	// CancelledConfig makes the cancelled-document steps available.
	CancelledConfig bool `yaml:"cancelled_config,omitempty"`

	// Speed is the speed level. Defaults to the default speed.
	Speed int `yaml:"speed,omitempty"`

	// DetectTimeout is the detection window in seconds.
	DetectTimeout int `yaml:"detect_timeout,omitempty"`

	// Lists are run in order. More than one list makes a batch.
	Lists []KeyList `yaml:"lists"`

	// Assertions validate the outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// KeyList is a named key list.
type KeyList struct {
	Name string    `yaml:"name"`
	Keys []KeyStep `yaml:"keys"`
}

// KeyStep is one key and how the simulated portal treats it.
type KeyStep struct {
	Key string `yaml:"key"`

	// Behaviour is deliver (default), missing, error, timeout or fatal.
	Behaviour string `yaml:"behaviour,omitempty"`
}

// Assertion validates the result of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// State is the expected terminal state (final_state).
	State string `yaml:"state,omitempty"`

	// Outcomes are the expected per-key outcomes (outcomes).
	Outcomes []string `yaml:"outcomes,omitempty"`

	// Op and Step select operator calls (call_count). Step is a step
	// name such as "download"; empty matches any step.
	Op    string `yaml:"op,omitempty"`
	Step  string `yaml:"step,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Calls are rendered operator calls, e.g. "click download"
	// (calls_order).
	Calls []string `yaml:"calls,omitempty"`

	// Keys are the expected missing-log keys (missing_log).
	Keys []string `yaml:"keys,omitempty"`

	// Path and Exists check a file (artifact).
	Path   string `yaml:"path,omitempty"`
	Exists *bool  `yaml:"exists,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertOutcomes   = "outcomes"
	AssertCallCount  = "call_count"
	AssertCallsOrder = "calls_order"
	AssertMissingLog = "missing_log"
	AssertArtifact   = "artifact"
)

var behaviours = []string{
	string(testutil.Deliver),
	string(testutil.Missing),
	string(testutil.Fail),
	string(testutil.Timeout),
	string(testutil.Crash),
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Backend != "" {
		if _, err := backend.ParseKind(s.Backend); err != nil {
			return err
		}
	}
	if s.Captcha != "" {
		if _, err := backend.ParseCaptchaPolicy(s.Captcha); err != nil {
			return err
		}
	}
	if len(s.Lists) == 0 {
		return fmt.Errorf("lists is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, list := range s.Lists {
		if list.Name == "" {
			return fmt.Errorf("lists[%d]: name is required", i)
		}
		for j, k := range list.Keys {
			if !model.IsValidKey(k.Key) {
				return fmt.Errorf("lists[%d].keys[%d]: %w", i, j, model.ErrInvalidKey)
			}
			if k.Behaviour != "" && !slices.Contains(behaviours, k.Behaviour) {
				return fmt.Errorf("lists[%d].keys[%d]: unknown behaviour %q", i, j, k.Behaviour)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		switch engine.State(a.State) {
		case engine.StateCompleted, engine.StateStopped, engine.StateFailed:
		default:
			return fmt.Errorf("assertions[%d]: final_state needs state completed, stopped or failed", index)
		}
	case AssertOutcomes:
		for _, o := range a.Outcomes {
			if model.ParseOutcome(o) == model.OutcomeUnknown {
				return fmt.Errorf("assertions[%d]: unknown outcome %q", index, o)
			}
		}
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		if a.Step != "" {
			if _, ok := model.StepByName(a.Step); !ok {
				return fmt.Errorf("assertions[%d]: unknown step %q", index, a.Step)
			}
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallsOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for calls_order", index)
		}
	case AssertMissingLog:
		// An empty list asserts the log is empty.
	case AssertArtifact:
		if a.Path == "" || a.Exists == nil {
			return fmt.Errorf("assertions[%d]: path and exists are required for artifact", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
