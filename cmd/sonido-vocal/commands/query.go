package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-vocal/aggregate"
	"github.com/RyanBlaney/sonido-vocal/dataset"
)

var queryFields []string

var queryCmd = &cobra.Command{
	Use:   "query <identity>",
	Short: "Resolve and summarize fields for one animal identity",
	Long: `Builds the aggregate view for one animal and resolves the requested
fields against the cache. Fields already materialized by a batch run are
loaded; anything else is computed and cached on the way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := args[0]

		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		if env.cfg.DataRoot == "" {
			return fmt.Errorf("query requires data_root in the config")
		}
		params, err := env.cfg.segmentParams()
		if err != nil {
			return err
		}

		recordings, err := dataset.NewFSResolver(dataset.DefaultResolverConfig()).Resolve(env.cfg.DataRoot)
		if err != nil {
			return err
		}
		grouped := dataset.GroupByIdentity(recordings)
		group, ok := grouped[identity]
		if !ok {
			known := make([]string, 0, len(grouped))
			for id := range grouped {
				known = append(known, id)
			}
			sort.Strings(known)
			return fmt.Errorf("unknown identity %q (known: %v)", identity, known)
		}

		container := aggregate.NewContainer(identity, group, env.deps)
		cfg := aggregate.FieldConfig{
			Strategy:      env.cfg.Strategy,
			SegmentParams: params,
			Refine:        env.cfg.Refine,
			Spec:          env.cfg.spectrogramConfig(),
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d recordings\n", identity, len(group))
		for _, name := range queryFields {
			field, err := container.Get(cmd.Context(), name, cfg)
			if err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
			fmt.Fprintf(out, "  %-20s %6d rows  fp=%s\n", field.Name, field.Len(), field.Fingerprint)
			if values, ok := field.Data.([]float64); ok && len(values) > 0 {
				fmt.Fprintf(out, "  %-20s mean=%.4f stddev=%.4f\n", "",
					stat.Mean(values, nil), stat.StdDev(values, nil))
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringSliceVarP(&queryFields, "field", "f", []string{aggregate.FieldSegments},
		"fields to resolve (segments, spectrograms, features:<name>, projection:pca<k>)")
}
