package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/internal/config"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive configuration setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runInit(force bool) error {
	cfgPath := resolveConfigPath()
	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
	}

	cfg := config.Default()
	portStr := strconv.Itoa(cfg.Gateway.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Corpus root").
				Description("Directory holding the conversation project directories").
				Value(&cfg.Corpus.Root),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name used for date filters and daily counts").
				Value(&cfg.Corpus.Timezone).
				Validate(func(s string) error {
					_, err := time.LoadLocation(s)
					return err
				}),
			huh.NewSelect[string]().
				Title("Subscription plan").
				Options(
					huh.NewOption("Pro", config.PlanPro),
					huh.NewOption("Max 5x", config.PlanMax5x),
					huh.NewOption("Max 20x", config.PlanMax20x),
				).
				Value(&cfg.Usage.Plan),
			huh.NewInput().
				Title("Gateway port").
				Value(&portStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be a number between 1 and 65535")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Gateway.Port, _ = strconv.Atoi(portStr)

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Config written to %s\n", cfgPath)
	fmt.Println("Start the gateway with: kaiwa serve")
	return nil
}
