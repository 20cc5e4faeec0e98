package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-ensemble/infrastructure/scoring"
	"github.com/ahrav/go-ensemble/internal/application"
)

func newTrainCmd(c *cli) *cobra.Command {
	var (
		dataPath    string
		scorerName  string
		scorerOpts  []string
		epochs      int
		concurrency int
		fresh       bool
		noSave      bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Learn worker weights from a labeled JSON Lines data set",
		Long: `Each line of the data file is a JSON object:

  {"input": 12.5, "actual": 25, "prompt": "optional", "attributes": {"k": "v"}}

input and actual accept numbers, strings (labels) and arrays of numbers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dataPath == "" {
				return errors.New("--data is required")
			}
			if epochs < 1 {
				return fmt.Errorf("--epochs must be at least 1, got %d", epochs)
			}
			params, err := parseParams(scorerOpts)
			if err != nil {
				return err
			}
			scorer, err := scoring.New(scorerName, params)
			if err != nil {
				return err
			}

			f, err := os.Open(filepath.Clean(dataPath))
			if err != nil {
				return err
			}
			examples, err := readExamples(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", dataPath, err)
			}
			if len(examples) == 0 {
				return fmt.Errorf("%s: no examples", dataPath)
			}

			cfg, cl, err := c.loadConfig(ctx)
			if err != nil {
				return err
			}
			engine, err := cl.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.shutdownEngine(ctx, engine)

			st, err := c.openStore(cfg.Store)
			if err != nil {
				return err
			}
			opts := []application.TrainerOption{
				application.WithTrainerLogger(c.logger),
				application.WithTrainerMetrics(c.metrics),
			}
			if concurrency > 0 {
				opts = append(opts, application.WithBatchConcurrency(concurrency))
			}
			if st != nil && !noSave {
				opts = append(opts, application.WithWeightStore(st))
			}
			trainer, err := application.NewTrainer(engine, scorer, opts...)
			if err != nil {
				return err
			}
			if !fresh {
				if err := restoreWeights(ctx, engine.Aggregator().WeightLearner(), st, c.logger); err != nil {
					return err
				}
			}

			var bar *progressbar.ProgressBar
			if isTerminal(os.Stderr) {
				bar = progressbar.NewOptions(epochs,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("Training"),
					progressbar.OptionSetWidth(18),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			for epoch := 1; epoch <= epochs; epoch++ {
				report, err := trainer.TrainBatch(ctx, examples)
				if err != nil {
					return fmt.Errorf("epoch %d: %w", epoch, err)
				}
				if bar != nil {
					_ = bar.Add(1)
				}
				c.logger.Info("epoch complete",
					"epoch", epoch,
					"examples", len(report.Reports),
					"mean_accuracy", report.MeanAccuracy,
					"duration", report.Duration,
				)
				if epoch == epochs {
					fmt.Fprintf(c.out, "%s %d epoch(s) over %d example(s), final mean accuracy %.3f\n",
						c.ui.ok("[OK]"), epochs, len(examples), report.MeanAccuracy)
				}
			}

			c.printWeights(cfg.Name, engine.Aggregator().WeightLearner())
			if usage := c.budget.Usage(); usage.Calls > 0 {
				fmt.Fprintf(c.out, "%s llm usage: %d call(s), %d token(s)\n", c.ui.info("[INFO]"), usage.Calls, usage.Tokens)
			}
			switch {
			case noSave:
				fmt.Fprintf(c.out, "%s weights not saved (--no-save)\n", c.ui.warn("[WARN]"))
			case st == nil:
				fmt.Fprintf(c.out, "%s no store configured; weights not saved\n", c.ui.warn("[WARN]"))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "JSON Lines file of labeled examples")
	cmd.Flags().StringVar(&scorerName, "scorer", scoring.NameNumeric, "accuracy scorer: "+strings.Join(scoring.Names(), "|"))
	cmd.Flags().StringArrayVar(&scorerOpts, "scorer-opt", nil, "scorer parameter key=value (repeatable), e.g. scale=100")
	cmd.Flags().IntVar(&epochs, "epochs", 1, "passes over the data set")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "examples trained at once (default: NumCPU)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "start from priors instead of the saved weights")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the learned weights")
	return cmd
}

// parseParams turns key=value pairs into a parameter map, typing values
// as bool, number or string.
func parseParams(pairs []string) (map[string]any, error) {
	attrs, err := parseAttributes(pairs)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else {
			out[k] = v
		}
	}
	return out, nil
}
