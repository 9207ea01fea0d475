package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semflow/config"
)

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Writes the default configuration. With --config the file is written at
that path; otherwise the user config (~/.config/semflow/config.yaml) is
created if missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *configPath != "" {
				if _, err := os.Stat(*configPath); err == nil {
					return fmt.Errorf("config file already exists: %s", *configPath)
				}
				if err := config.DefaultConfig().SaveToFile(*configPath); err != nil {
					return err
				}
				fmt.Printf("Wrote default config to %s\n", *configPath)
				return nil
			}
			return config.NewLoader(nil).EnsureUserConfig()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if *configPath != "" {
				cfg, err = config.LoadFromFile(*configPath)
				if err == nil {
					err = cfg.Validate()
				}
			} else {
				cfg, err = config.NewLoader(nil).Load()
			}
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	return cmd
}
