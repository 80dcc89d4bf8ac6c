package cmd

import (
	"fmt"
	"os"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/corpus"
)

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List the corpus projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjects()
		},
	}
}

func runProjects() error {
	cfg := loadConfig()
	root := config.ExpandHome(cfg.Corpus.Root)
	catalog := corpus.NewCatalog(root, cfg.Corpus.Projects)

	projects, err := catalog.List()
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Printf("no projects under %s\n", root)
		return nil
	}

	const (
		nameWidth = 32
		idWidth   = 48
	)
	fmt.Printf("%s %s %s\n",
		runewidth.FillRight("NAME", nameWidth),
		runewidth.FillRight("ID", idWidth),
		"FILES")
	for _, p := range projects {
		files, err := catalog.Files(p.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", p.ID, err)
		}
		fmt.Printf("%s %s %d\n",
			runewidth.FillRight(runewidth.Truncate(p.DisplayName, nameWidth, "…"), nameWidth),
			runewidth.FillRight(runewidth.Truncate(p.ID, idWidth, "…"), idWidth),
			len(files))
	}
	fmt.Printf("\n%d project%s\n", len(projects), plural(len(projects)))
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
