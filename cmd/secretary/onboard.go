package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/HKUDS/secretary-go/pkg/config"
)

func newOnboardCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a default config file and create the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				path = "config.yaml"
			}
			return onboard(cmd, path, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func onboard(cmd *cobra.Command, path string, force bool) error {
	out := cmd.OutOrStdout()
	cfg := config.DefaultConfig()

	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "Config file already exists at %s\n", path)
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
		}
		if err := cfg.WriteFile(path); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config file at %s\n", path)
	}

	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	fmt.Fprintf(out, "Created workspace at %s\n", cfg.Workspace)
	fmt.Fprintln(out, "Set TELEGRAM_TOKEN and GEMINI_API_KEY (or OPENAI_API_KEY / DEEPSEEK_API_KEY), then run: secretary")
	return nil
}
