package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-ensemble/infrastructure/llm"
	"github.com/ahrav/go-ensemble/infrastructure/scoring"
	"github.com/ahrav/go-ensemble/infrastructure/strategies"
	"github.com/ahrav/go-ensemble/internal/application"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file without running any worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.loadConfig(cmd.Context())
			if err != nil {
				fmt.Fprintf(c.out, "%s %s\n", c.ui.err("[FAIL]"), c.configPath)
				return err
			}
			workers := 0
			for _, w := range cfg.Workers {
				workers += len(w.WorkerConfigs())
			}
			learner := cfg.Learner.Type
			if learner == application.LearnerNone {
				learner = "none"
			}
			store := cfg.Store.Type
			if store == application.StoreNone {
				store = "none"
			}
			fmt.Fprintf(c.out, "%s %s: %s v%s\n", c.ui.ok("[OK]"), c.configPath, cfg.Name, cfg.Version)
			fmt.Fprintf(c.out, "  workers=%d strategy=%s learner=%s store=%s\n",
				workers, cfg.Aggregation.Strategy, learner, store)
			return nil
		},
	}
}

func newStrategiesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "strategies",
		Aliases: []string{"list"},
		Short:   "List the built-in strategies, worker types, scorers and LLM providers",
		RunE: func(*cobra.Command, []string) error {
			rows := []struct {
				name  string
				items []string
			}{
				{"aggregation strategies", strategies.Names()},
				{"worker types", application.NewDefaultProcessorRegistry(nil).SupportedTypes()},
				{"learners", []string{application.LearnerBayesian, application.LearnerAdaptive}},
				{"accuracy scorers", scoring.Names()},
				{"llm providers", llm.Providers()},
				{"weight stores", []string{application.StoreFile, application.StoreRedis}},
			}
			for _, r := range rows {
				fmt.Fprintf(c.out, "%s\n  %s\n", c.ui.title(r.name), strings.Join(r.items, ", "))
			}
			return nil
		},
	}
}
