package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/presenter"
	"github.com/agentmesh/agentgate/pkg/skills"
)

const docsFetchTimeout = 30 * time.Second

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect the configured skills",
	Long:  `List, show, and fetch documentation for the skills in the configured skills directory.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configured skills",
	Long:  `List all skills in the configured skills directory with their names, descriptions, and paths.`,
	Run: func(_ *cobra.Command, _ []string) {
		listSkillsCmd()
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <skill-name>",
	Short: "Print the full body of a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		showSkillCmd(args[0])
	},
}

var skillDocsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Fetch the skills documentation index",
	Long:  `Fetch the skills documentation index configured in settings.skills_docs_index and print it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		fetchSkillDocsCmd(cmd)
	},
}

func init() {
	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillShowCmd)
	skillCmd.AddCommand(skillDocsCmd)
}

func loadSkillStore() (*skills.Store, *config.Config) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		fatal(err, "failed to load agent config")
	}

	store, err := skills.NewStore(cfg.Settings.SkillsDir)
	if err != nil {
		fatal(err, "failed to load skills")
	}

	return store, cfg
}

func listSkillsCmd() {
	store, _ := loadSkillStore()

	all := store.List()
	if len(all) == 0 {
		presenter.Info("No skills configured")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t----\t-----------")

	for _, skill := range all {
		description := skill.Description
		if len(description) > 60 {
			description = description[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", skill.Name, skill.Path, description)
	}
	tw.Flush()
}

func showSkillCmd(name string) {
	store, _ := loadSkillStore()

	skill, ok := store.Get(name)
	if !ok {
		fatal(errors.Errorf("skill %q not found in %s", name, store.Dir()), "Skill not found")
	}

	fmt.Println(skill.Body)
}

func fetchSkillDocsCmd(cmd *cobra.Command) {
	_, cfg := loadSkillStore()

	indexURL := cfg.Settings.SkillsDocsIndex

	client := &http.Client{Timeout: docsFetchTimeout}
	req, err := http.NewRequestWithContext(cmd.Context(), "GET", indexURL, nil)
	if err != nil {
		fatal(err, "invalid skills docs index URL")
	}

	resp, err := client.Do(req)
	if err != nil {
		fatal(errors.Wrapf(err, "failed to fetch %s", indexURL), "Failed to fetch skills docs index")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fatal(errors.Errorf("unexpected status %d from %s", resp.StatusCode, indexURL), "Failed to fetch skills docs index")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err, "failed to read skills docs index")
	}

	fmt.Print(string(body))
}
