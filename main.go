// deskshell: desktop shell for the hosted dashboard with machine fingerprinting
//
// Usage:
//
//	deskshell serve    open the dashboard and hand it this machine's fingerprint
//	deskshell info     print the fingerprint
//	deskshell update   check the update feed
//	deskshell status   query a running instance
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deskshell/cmd/edit"
	"deskshell/cmd/info"
	"deskshell/cmd/serve"
	"deskshell/cmd/status"
	"deskshell/cmd/update"
	"deskshell/internal/version"
	"deskshell/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		quit       bool
	)

	root := &cobra.Command{
		Use:   "deskshell",
		Short: "Desktop shell for the hosted dashboard",
		Long: fmt.Sprintf(`deskshell v%s: desktop shell for the hosted dashboard

Config is read from --config, else ./%s, else %s.`, version.Semantic, config.LocalPath, config.DefaultPath()),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Installers call "deskshell --quit" to stop a running instance.
			if quit {
				return status.Quit(configPath, cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.Flags().BoolVar(&quit, "quit", false, "ask a running instance to quit and exit")

	var serveOpts serve.Options
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Open the dashboard and run until quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveOpts.ConfigPath = configPath
			return serve.Run(serveOpts)
		},
	}
	serveCmd.Flags().BoolVar(&serveOpts.NoBrowser, "no-browser", false, "log page URLs instead of opening a browser")

	var infoOpts info.Options
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print this machine's fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infoOpts.Out = cmd.OutOrStdout()
			return info.Run(infoOpts)
		},
	}
	infoCmd.Flags().StringVarP(&infoOpts.Format, "format", "f", info.FormatAuto,
		"output format: auto, table, json, script, legacy-script, snapshot")
	infoCmd.Flags().StringVar(&infoOpts.From, "from", "", "compute from a recorded snapshot file")

	var updateOpts update.Options
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Check the update feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			updateOpts.ConfigPath = configPath
			updateOpts.Out = cmd.OutOrStdout()
			return update.Run(updateOpts)
		},
	}
	updateCmd.Flags().BoolVar(&updateOpts.Download, "download", false, "download a newer release")
	updateCmd.Flags().BoolVar(&updateOpts.History, "history", false, "list recorded releases")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status.Run(configPath, cmd.OutOrStdout())
		},
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Quit a running instance and install its downloaded update",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status.Install(configPath, cmd.OutOrStdout())
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file in your system editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return edit.Run(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deskshell v%s (build %s)\n", version.Semantic, version.Build)
		},
	}

	root.AddCommand(serveCmd, infoCmd, updateCmd, statusCmd, installCmd, editCmd, versionCmd)
	return root
}
