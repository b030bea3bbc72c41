package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <audio-file>",
	Short: "Process a single audio file and print record shapes",
	Long: `Segments one audio file and extracts spectrograms without touching
the cache. Useful for tuning parameters before a batch run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPipelineConfig(configPath)
		if err != nil {
			return err
		}
		params, err := cfg.segmentParams()
		if err != nil {
			return err
		}

		decoderCfg := transcode.DefaultDecoderConfig()
		if cfg.FFmpegPath != "" {
			decoderCfg.FFmpegPath = cfg.FFmpegPath
		}
		audio, err := transcode.NewDecoder(decoderCfg).DecodeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		set, err := segment.Run(audio, cfg.Strategy, params)
		if err != nil {
			return err
		}
		if cfg.Refine != nil {
			set, err = segment.Refine(audio, set, *cfg.Refine)
			if err != nil {
				return err
			}
		}

		builder, err := spectro.NewBuilder(cfg.spectrogramConfig())
		if err != nil {
			return err
		}
		result, err := builder.Build(audio, set)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %.2fs, %d Hz\n", args[0], audio.Seconds(), audio.SampleRate)
		fmt.Fprintf(out, "  segments: %d (discarded %d, clipped %d)\n",
			set.Len(), set.Discarded, set.Clipped)
		fmt.Fprintf(out, "  records:  %d (skipped %d)\n", len(result.Records), result.Skipped)
		for _, rec := range result.Records {
			seg := set.Segments[rec.Index]
			fmt.Fprintf(out, "  [%3d] %8.3f - %8.3f  %dx%d\n",
				rec.Index, seg.Onset, seg.Offset, rec.Shape.Freq, rec.Shape.Time)
		}
		return nil
	},
}
