package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-vocal/aggregate"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/registry"
	"github.com/RyanBlaney/sonido-vocal/store"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sonido-vocal",
	Short: "Bioacoustic segmentation and spectrogram extraction",
	Long: `sonido-vocal - segment animal vocalization recordings and extract
fixed-shape spectrograms into a fingerprint-keyed cache.

Datasets are laid out as <root>/<animal>/<session>/<file>. Every derived
artifact is keyed by a fingerprint of the parameters that produced it, so
re-running with unchanged parameters does no audio work and changing any
parameter produces new artifacts without touching old ones.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.SetLevel(logging.DebugLevel)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(spectrogramCmd)
	rootCmd.AddCommand(queryCmd)
}

// env bundles the opened cache collaborators for one command invocation
type env struct {
	cfg   *pipelineConfig
	index *registry.Index
	deps  aggregate.Deps
}

func openEnv() (*env, error) {
	cfg, err := loadPipelineConfig(configPath)
	if err != nil {
		return nil, err
	}

	index, err := registry.Open(filepath.Join(cfg.CacheRoot, "registry"))
	if err != nil {
		return nil, err
	}

	segStore, err := store.NewSegmentStore(cfg.CacheRoot)
	if err != nil {
		index.Close()
		return nil, err
	}
	specStore, err := store.NewSpectrogramStore(cfg.CacheRoot)
	if err != nil {
		index.Close()
		return nil, err
	}

	decoderCfg := transcode.DefaultDecoderConfig()
	if cfg.FFmpegPath != "" {
		decoderCfg.FFmpegPath = cfg.FFmpegPath
	}

	return &env{
		cfg:   cfg,
		index: index,
		deps: aggregate.Deps{
			Loader:       aggregate.DecoderLoader{Decoder: transcode.NewDecoder(decoderCfg)},
			Index:        index,
			Segments:     segStore,
			Spectrograms: specStore,
		},
	}, nil
}

func (e *env) Close() {
	if err := e.index.Close(); err != nil {
		logging.Warn("Registry close failed", logging.Fields{"error": err.Error()})
	}
}
