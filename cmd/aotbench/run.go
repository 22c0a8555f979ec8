package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-aotbench/internal/bench"
	"github.com/example/go-aotbench/internal/catalog"
	"github.com/example/go-aotbench/internal/compiler"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/device"
	"github.com/example/go-aotbench/internal/harness"
	"github.com/example/go-aotbench/internal/onnx"
	"github.com/example/go-aotbench/internal/report"
	"github.com/example/go-aotbench/internal/verify"
)

func newMobileCmd() *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "mobile",
		Short: "Run the mobile suite on an attached device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if deviceID == "" {
				deviceID = cfg.Target.Device
			}

			return runSuite(cmd, cfg, config.MobileTarget(deviceID), harness.SuiteMobile, nil)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device serial (default "+config.DefaultMobileDevice+")")

	return cmd
}

func newModelCmd() *cobra.Command {
	var (
		preOptimize bool
		mobile      bool
	)

	cmd := &cobra.Command{
		Use:   "model <name>",
		Short: "Compile, verify and benchmark a single catalog model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			target := cfg.Target
			if mobile {
				target = config.MobileTarget(cfg.Target.Device)
			}

			return runSuite(cmd, cfg, target, "", []harness.RunSpec{{Model: args[0], PreOptimize: preOptimize}})
		},
	}

	cmd.Flags().BoolVar(&preOptimize, "pre-optimize", false, "Ask the compiler to pre-optimize the graph")
	cmd.Flags().BoolVar(&mobile, "mobile", false, "Run on the mobile target instead of the host")

	return cmd
}

// runSuite runs specs, or the named suite when specs is nil, then prints the
// results table and writes the results file.
func runSuite(cmd *cobra.Command, cfg config.Config, target config.Target, suite string, specs []harness.RunSpec) error {
	cat, err := catalog.Load(cfg.Paths.CatalogPath)
	if err != nil {
		return err
	}

	if specs == nil {
		specs = harness.SuiteFor(suite, harness.CatalogSuites(cat))
	}
	if len(specs) == 0 {
		return fmt.Errorf("suite %q has no models", suite)
	}

	h, err := buildHarness(cfg, target, cat)
	if err != nil {
		return err
	}
	h.Out = cmd.OutOrStdout()

	if err := h.RunSuite(cmd.Context(), target, specs); err != nil {
		return err
	}

	if err := h.Results.RenderGrid(cmd.OutOrStdout()); err != nil {
		return err
	}

	return h.Results.WriteResults(cfg.Paths.ResultsPath)
}

func buildHarness(cfg config.Config, target config.Target, cat *catalog.Catalog) (*harness.Harness, error) {
	h := &harness.Harness{
		Catalog:     cat,
		Compiler:    &compiler.Command{Path: cfg.Compiler.CLIPath, Stderr: os.Stderr},
		Results:     report.NewAggregator(),
		LibDir:      cfg.Paths.LibDir,
		ReuseCached: cfg.Compiler.ReuseCached,
	}

	if !target.IsNative() {
		h.Device = &device.Command{Path: cfg.Device.CLIPath, Stderr: os.Stderr}
		return h, nil
	}

	rt, err := onnx.DetectRuntime(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	runnerCfg := onnx.RunnerConfig{LibraryPath: rt.LibraryPath, APIVersion: cfg.Runtime.APIVersion}
	quiet := runnerCfg
	quiet.Quiet = true

	h.Verifier = verify.New(cat, onnx.NewOpener(runnerCfg), verify.Options{
		Atol: cfg.Verify.Atol,
		Rtol: cfg.Verify.Rtol,
		Mode: cfg.Verify.Mode,
		Seed: cfg.Verify.Seed,
	}, nil)
	h.Bench = bench.New(cat, onnx.NewOpener(quiet), bench.Options{
		Warmup: cfg.Bench.Warmup,
		Repeat: cfg.Bench.Repeat,
	}, nil)

	return h, nil
}
