package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-ensemble/internal/application"
	"github.com/ahrav/go-ensemble/internal/domain"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		input   string
		prompt  string
		attrs   []string
		workers []string
		traceID string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ensemble once on an input",
		Example: `  ensemble run -c ensemble.yaml --input 42
  ensemble run --input 0.1,0.4,0.9 --workers est,est_var1 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			attributes, err := parseAttributes(attrs)
			if err != nil {
				return err
			}
			payload := parseValue(input)
			if payload.IsEmpty() {
				return errors.New("--input is required")
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
			if err := restoreWeights(ctx, engine.Aggregator().WeightLearner(), st, c.logger); err != nil {
				return err
			}

			var opts []application.ExecuteOption
			if len(workers) > 0 {
				opts = append(opts, application.WithWorkerIDs(workers...))
			}
			if traceID != "" {
				opts = append(opts, application.WithTraceID(traceID))
			}

			var spin *spinner.Spinner
			if !asJSON && isTerminal(os.Stderr) {
				spin = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
				spin.Suffix = fmt.Sprintf(" Running %s...", cfg.Name)
				spin.Start()
			}
			res, err := engine.Run(ctx, buildInput(payload, prompt, attributes), opts...)
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.ToMap())
			}
			c.printResult(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "payload: a number, comma-separated numbers, or a label")
	cmd.Flags().StringVar(&prompt, "prompt", "", "free text handed to llm workers")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "input attribute key=value (repeatable)")
	cmd.Flags().StringSliceVar(&workers, "workers", nil, "run only these worker ids")
	cmd.Flags().StringVar(&traceID, "trace-id", "", "trace id to stamp on results (default: random)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func (c *cli) printResult(res domain.AggregatedResult) {
	u := c.ui
	if res.Value.IsEmpty() {
		fmt.Fprintf(c.out, "%s no decision (%v)\n", u.warn("[WARN]"), res.Metadata["error"])
	} else {
		fmt.Fprintf(c.out, "%s %s  confidence=%.3f\n", u.ok("[OK]"), u.title(res.Value.String()), res.Confidence)
	}
	fmt.Fprintf(c.out, "%s method=%s workers=%d/%d trace=%s time=%s\n",
		u.dim("  "), res.Method, res.ValidWorkers(), res.NumWorkers(), res.TraceID, res.ProcessingTime.Round(time.Microsecond))

	results := append([]domain.WorkerResult(nil), res.WorkerResults...)
	sort.Slice(results, func(i, j int) bool { return results[i].WorkerID < results[j].WorkerID })
	for _, r := range results {
		line := fmt.Sprintf("  %-24s %-8s", r.WorkerID, u.status(r.Status))
		if !r.Value.IsEmpty() {
			line += fmt.Sprintf(" value=%s confidence=%.3f", r.Value, r.Confidence)
		}
		if w, ok := res.Weights[r.WorkerID]; ok {
			line += fmt.Sprintf(" weight=%.3f", w)
		}
		if msg, ok := r.Metadata[application.MetaError]; ok {
			line += " " + u.err(fmt.Sprint(msg))
		}
		fmt.Fprintln(c.out, line)
	}
}
