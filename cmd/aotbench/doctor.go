package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-aotbench/internal/catalog"
	"github.com/example/go-aotbench/internal/config"
	"github.com/example/go-aotbench/internal/doctor"
	"github.com/example/go-aotbench/internal/onnx"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the runtime, external tools and catalog models",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "target: %s (%s)\n", cfg.Target.Arch, cfg.Target.Device)

			dcfg := doctorConfig(cfg)

			cat, catErr := catalog.Load(cfg.Paths.CatalogPath)
			if catErr == nil {
				addCatalogFiles(&dcfg, cat)
			}

			result := doctor.Run(dcfg, out)
			if catErr != nil {
				result.AddFailure(fmt.Sprintf("catalog: %v", catErr))
				_, _ = fmt.Fprintf(out, "%s catalog: %v\n", doctor.FailMark, catErr)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					// #nosec G705 -- Writes plain diagnostic text to stderr for CLI output, not HTML rendering.
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

func doctorConfig(cfg config.Config) doctor.Config {
	dcfg := doctor.Config{
		Runtime: func() (onnx.RuntimeInfo, error) {
			return onnx.DetectRuntime(cfg.Runtime)
		},
		APIVersion: cfg.Runtime.APIVersion,
		Tools:      []doctor.Tool{{Label: "compiler", Path: cfg.Compiler.CLIPath}},
	}

	if !cfg.Target.IsNative() {
		dcfg.SkipRuntime = true
		dcfg.Tools = append(dcfg.Tools, doctor.Tool{Label: "device runner", Path: cfg.Device.CLIPath})
	}

	return dcfg
}

func addCatalogFiles(dcfg *doctor.Config, cat *catalog.Catalog) {
	seen := map[string]bool{}
	for _, name := range cat.Names() {
		backbone, sp, err := cat.Files(name)
		if err != nil {
			continue
		}
		dcfg.Backbones = append(dcfg.Backbones, doctor.Artifact{Model: name, Path: backbone})
		if sp != "" && !seen[sp] {
			seen[sp] = true
			dcfg.TokenizerModels = append(dcfg.TokenizerModels, sp)
		}
	}
}
