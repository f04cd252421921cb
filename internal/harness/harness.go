package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/batch"
	"github.com/roach88/nfefetch/internal/detect"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/keys"
	"github.com/roach88/nfefetch/internal/missing"
	"github.com/roach88/nfefetch/internal/model"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/store"
	"github.com/roach88/nfefetch/internal/testutil"
	"github.com/roach88/nfefetch/internal/timing"
)

// Directories of the simulated installation.
const (
	OutputDir = "out"
	BatchRoot = "lotes"
)

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh memory filesystem, in-memory history
// database, fake clock and scripted operator.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	fs := afero.NewMemMapFs()
	clk := testutil.NewFakeClock(testutil.Epoch)
	logger := slog.New(slog.DiscardHandler)
	events := &notify.Collector{}

	kind := backend.KindCoordinate
	if scenario.Backend != "" {
		kind = backend.Kind(scenario.Backend)
	}
	captcha := backend.CaptchaManual
	if scenario.Captcha != "" {
		captcha = backend.CaptchaPolicy(scenario.Captcha)
	}
	speed := scenario.Speed
	if speed == 0 {
		speed = timing.DefaultSpeed
	}

	op := testutil.NewScriptedOperator(kind, fs, OutputDir).WithCancelledConfig(scenario.CancelledConfig)
	op.CaptchaSolves = scenario.CaptchaSolves
	lists := make([]keys.List, 0, len(scenario.Lists))
	for _, l := range scenario.Lists {
		list := keys.List{Name: l.Name}
		for _, k := range l.Keys {
			key := model.DocumentKey(k.Key)
			if k.Behaviour != "" {
				op.Script(key, testutil.Behaviour(k.Behaviour))
			}
			list.Keys = append(list.Keys, key)
		}
		lists = append(lists, list)
	}

	missingLog := missing.NewLog(fs, filepath.Join(OutputDir, missing.DefaultFileName), clk, logger)
	seq := backend.NewSequence(op, backend.Options{
		Timing:        timing.Compute(speed),
		Captcha:       captcha,
		DetectTimeout: scenario.DetectTimeout,
		Detector:      detect.New(fs, OutputDir, clk, logger),
		Missing:       missingLog,
		Clock:         clk,
		Events:        events,
		Logger:        logger,
	})
	eng := engine.New(seq,
		engine.WithClock(clk),
		engine.WithEvents(events),
		engine.WithRecorder(st),
		engine.WithRunIDs(testutil.NewFixedRunID(scenario.RunID)),
		engine.WithLogger(logger),
		engine.WithSpeed(speed),
	)

	ctx := context.Background()
	result := NewResult()

	if len(lists) == 1 {
		report, runErr := eng.Run(ctx, lists[0].Keys)
		if runErr != nil {
			result.RunErr = runErr.Error()
		}
		if report != nil {
			result.State = string(report.State)
			result.addOutcomes(lists[0].Name, report)
		}
	} else {
		coord := batch.NewCoordinator(eng, batch.Options{
			FS:        fs,
			OutputDir: OutputDir,
			Root:      BatchRoot,
			Events:    events,
			Logger:    logger,
		})
		res, runErr := coord.Run(ctx, lists)
		if runErr != nil {
			result.RunErr = runErr.Error()
		}
		if res != nil {
			result.State = string(res.State)
			for _, lr := range res.Lists {
				summary := ListSummary{Name: lr.Name, Skipped: lr.Skipped, Dir: lr.Dir, Moved: lr.Moved}
				if lr.Report != nil {
					summary.State = string(lr.Report.State)
					result.addOutcomes(lr.Name, lr.Report)
				}
				result.Lists = append(result.Lists, summary)
			}
		}
	}

	result.Calls = op.Calls()
	result.Events = events.Events()
	missingKeys, err := missingLog.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to read missing log: %w", err)
	}
	for _, k := range missingKeys {
		result.MissingKeys = append(result.MissingKeys, k.String())
	}
	result.artifacts = func(path string) bool {
		ok, err := afero.Exists(fs, path)
		return err == nil && ok
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (r *Result) addOutcomes(list string, report *engine.Report) {
	for _, o := range report.Outcomes {
		r.Outcomes = append(r.Outcomes, KeyOutcome{List: list, Key: o.Key.String(), Outcome: o.Outcome.String()})
	}
}
