package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/roasbeef/driftwatch/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a project config in the current working tree",
	Long: `Interactively create .driftwatch/config.toml with a starting rule
set. Existing config files are left untouched.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root := watchDir
	if root == "" {
		var err error
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to resolve working "+
				"directory: %w", err)
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	root = absRoot

	path := config.ProjectConfigPath(root)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	defaults := config.DefaultProject()

	var (
		enabled    = true
		ruleNames  []string
		extraExcl  string
		defaultSet []huh.Option[string]
	)
	for _, rule := range defaults.Rules {
		opt := huh.NewOption(
			fmt.Sprintf("%s — %s", rule.Name, rule.Description),
			rule.Name,
		).Selected(true)
		defaultSet = append(defaultSet, opt)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable background review for this project?").
				Value(&enabled),
			huh.NewMultiSelect[string]().
				Title("Built-in review rules to include").
				Options(defaultSet...).
				Value(&ruleNames),
			huh.NewInput().
				Title("Extra exclude patterns (comma separated, optional)").
				Value(&extraExcl),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return err
	}

	projCfg := &config.ProjectConfig{
		Enabled:         enabled,
		ExcludePatterns: defaults.ExcludePatterns,
	}
	for _, rule := range defaults.Rules {
		for _, name := range ruleNames {
			if rule.Name == name {
				projCfg.Rules = append(projCfg.Rules, rule)
				break
			}
		}
	}
	for _, pat := range strings.Split(extraExcl, ",") {
		if pat = strings.TrimSpace(pat); pat != "" {
			projCfg.ExcludePatterns = append(
				projCfg.ExcludePatterns, pat,
			)
		}
	}

	if err := config.WriteProject(root, projCfg); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	fmt.Println(bannerStyle.Render("created " + path))

	return nil
}
