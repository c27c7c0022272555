package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/offline/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		values := settings.Values()
		metadata := config.GetSettingsMetadata()
		for _, category := range config.CategoryOrder() {
			fmt.Fprintf(out, "%s\n", category)
			for _, meta := range metadata[category] {
				fmt.Fprintf(out, "  %-26s %v\n", meta.Key, values[meta.Key])
			}
		}
		return nil
	},
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective settings to the settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.GetSettingsPath()
		}
		if err := config.SaveSettings(path, settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsInitCmd)
}
