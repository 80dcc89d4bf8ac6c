package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/usage"
)

func usageCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print the current token-usage report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw report as JSON")
	return cmd
}

func runUsage(asJSON bool) error {
	cfg := loadConfig()
	root := config.ExpandHome(cfg.Corpus.Root)
	engine := usage.NewEngine(root, cfg.Usage, cfg.Corpus.Location())

	rep := engine.Report(context.Background())

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if !rep.Available {
		fmt.Printf("usage report unavailable: %s\n", rep.Error)
		return nil
	}

	fmt.Printf("Plan: %s (session limit %d tokens, weekly estimate %d tokens)\n\n",
		rep.PlanType, rep.Limits.SessionTokens, rep.Limits.WeeklyTokens)

	if s := rep.CurrentSession; s != nil {
		fmt.Printf("Current session  %s – %s (resets in %d min)\n",
			s.StartTime.Format("15:04"), s.EndTime.Format("15:04 MST"), s.TimeRemainingMinutes)
		printTokens("session", s.Corrected, s.LimitTokens, s.PercentageUsed, false)
	}
	if w := rep.WeeklyAll; w != nil {
		fmt.Printf("\nWeekly (all models)  %s – %s\n",
			w.WindowStart.Format("Jan 2"), w.WindowEnd.Format("Jan 2 MST"))
		printTokens("weekly", w.Corrected, w.LimitTokens, w.PercentageUsed, w.Estimated)
	}
	for name, w := range rep.WeeklyPerModel {
		fmt.Printf("\nWeekly (%s)\n", name)
		printTokens(name, w.Corrected, w.LimitTokens, w.PercentageUsed, w.Estimated)
	}
	return nil
}

func printTokens(label string, t usage.Tokens, limit int64, pct float64, estimated bool) {
	row := func(name string, v int64) {
		fmt.Printf("  %s %d\n", runewidth.FillRight(name, 16), v)
	}
	row("input", t.InputTokens)
	row("output", t.OutputTokens)
	row("cache creation", t.CacheCreationTokens)
	row("cache read", t.CacheReadTokens)
	row("total", t.TotalTokens)
	suffix := ""
	if estimated {
		suffix = " (estimated budget)"
	}
	fmt.Printf("  %s %.1f%% of %d%s\n", runewidth.FillRight("used", 16), pct, limit, suffix)
}
