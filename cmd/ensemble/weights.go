package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-ensemble/internal/application"
	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// restoreWeights loads the saved learner state into wl. Missing state and
// a missing learner or store are not errors.
func restoreWeights(ctx context.Context, wl ports.WeightLearner, st ports.WeightStore, logger *slog.Logger) error {
	if wl == nil || st == nil {
		return nil
	}
	state, err := st.Load(ctx)
	if errors.Is(err, ports.ErrStateNotFound) {
		logger.Debug("no saved weights")
		return nil
	}
	if err != nil {
		return err
	}
	if err := wl.Restore(state); err != nil {
		return fmt.Errorf("restore weights: %w", err)
	}
	logger.Debug("weights restored", "workers", len(state.Weights), "saved_at", state.SavedAt)
	return nil
}

// learnerFromStore builds the configured learner and fills it from the
// configured store.
func (c *cli) learnerFromStore(ctx context.Context) (*application.EnsembleConfig, ports.WeightLearner, ports.WeightStore, error) {
	cfg, _, err := c.loadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	wl, err := application.NewLearner(cfg.Learner, c.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if wl == nil {
		return nil, nil, nil, fmt.Errorf("%w: ensemble %s", application.ErrNoLearner, cfg.Name)
	}
	st, err := c.requireStore(cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := restoreWeights(ctx, wl, st, c.logger); err != nil {
		return nil, nil, nil, err
	}
	return cfg, wl, st, nil
}

func newWeightsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect or reset learned worker weights",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the saved weights and per-worker statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, wl, _, err := c.learnerFromStore(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(wl.Snapshot())
			}
			c.printWeights(cfg.Name, wl)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the raw learner snapshot as JSON")

	var all bool
	reset := &cobra.Command{
		Use:   "reset [worker-id...]",
		Short: "Forget the learned weight of the given workers, or of all with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("name worker ids to reset or pass --all")
			}
			ctx := cmd.Context()
			_, wl, st, err := c.learnerFromStore(ctx)
			if err != nil {
				return err
			}
			ids := args
			if all {
				ids = nil
				for id := range wl.AllWeights() {
					ids = append(ids, id)
				}
			}
			for _, id := range ids {
				wl.ResetWorker(id)
			}
			if err := st.Save(ctx, wl.Snapshot()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s reset %d worker(s)\n", c.ui.ok("[OK]"), len(ids))
			return nil
		},
	}
	reset.Flags().BoolVar(&all, "all", false, "reset every worker")

	cmd.AddCommand(show, reset)
	return cmd
}

func (c *cli) printWeights(name string, wl ports.WeightLearner) {
	weights := wl.AllWeights()
	if len(weights) == 0 {
		fmt.Fprintf(c.out, "%s no learned weights for %s\n", c.ui.info("[INFO]"), name)
		return
	}
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	normalized := wl.NormalizedWeights(ids)

	fmt.Fprintln(c.out, c.ui.title(name))
	fmt.Fprintf(c.out, "  %-24s %8s %8s %6s %8s %s\n", "WORKER", "WEIGHT", "SHARE", "OBS", "ACCURACY", "TREND")
	for _, id := range ids {
		stats, ok := wl.Statistics(id)
		if !ok {
			stats = domain.LearnerStats{Trend: "-"}
		}
		fmt.Fprintf(c.out, "  %-24s %8.4f %7.1f%% %6d %8.3f %s\n",
			id, weights[id], normalized[id]*100, stats.Observations, stats.MeanAccuracy, c.ui.dim(stats.Trend))
	}
}
