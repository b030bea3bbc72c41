package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-vocal/batch"
	"github.com/RyanBlaney/sonido-vocal/dataset"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

var runCmd = &cobra.Command{
	Use:   "run [dataset-root]",
	Short: "Segment a dataset and extract spectrograms",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		spec := env.cfg.spectrogramConfig()
		return runBatch(cmd, env, args, &spec)
	},
}

var segmentCmd = &cobra.Command{
	Use:   "segment [dataset-root]",
	Short: "Segment a dataset without extracting spectrograms",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		return runBatch(cmd, env, args, nil)
	},
}

func runBatch(cmd *cobra.Command, env *env, args []string, spec *spectro.Config) error {
	root := env.cfg.DataRoot
	if len(args) == 1 {
		root = args[0]
	}
	if root == "" {
		return fmt.Errorf("no dataset root: pass one as an argument or set data_root in the config")
	}

	params, err := env.cfg.segmentParams()
	if err != nil {
		return err
	}

	resolverCfg := dataset.DefaultResolverConfig()
	if len(env.cfg.Extensions) > 0 {
		resolverCfg.Extensions = env.cfg.Extensions
	}
	recordings, err := dataset.NewFSResolver(resolverCfg).Resolve(root)
	if err != nil {
		return err
	}

	driver := batch.NewDriver(env.deps, env.cfg.Workers)
	report, err := driver.Run(cmd.Context(), recordings, batch.Plan{
		Strategy:      env.cfg.Strategy,
		SegmentParams: params,
		Refine:        env.cfg.Refine,
		Spec:          spec,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", report.RunID)
	fmt.Fprintf(out, "  recordings: %d\n", report.Recordings)
	fmt.Fprintf(out, "  segments:   %d\n", report.Segments)
	if spec != nil {
		fmt.Fprintf(out, "  records:    %d\n", report.Records)
	}
	fmt.Fprintf(out, "  elapsed:    %s\n", report.Finished.Sub(report.Started))
	for _, failure := range report.Failed {
		fmt.Fprintf(out, "  FAILED %s: %v\n", failure.RecordingID, failure.Err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d recordings failed", len(report.Failed), report.Recordings)
	}
	return nil
}
