// Package cmd implements the vidnote command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/vidnote/internal/config"
	"github.com/fakeyudi/vidnote/internal/logging"
	"github.com/fakeyudi/vidnote/internal/profile"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded user profile.
var activeProfile *profile.Profile

// logger is built from the configured level once cfg is known.
var logger = zerolog.Nop()

// overrides reads VIDNOTE_* environment variables and the persistent flags.
var overrides = config.NewViper()

var logFile string

var rootCmd = &cobra.Command{
	Use:           "vidnote",
	Short:         "Play videos with timed, positioned annotations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the project is optional.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		// Skip setup check for the setup command itself.
		if cmd.Name() == "setup" {
			return nil
		}

		// First-run: profile missing → run setup wizard automatically.
		// Only do this when stdin is an interactive terminal.
		if !profile.Exists() && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to vidnote! Looks like this is your first time.")
			if err := runSetup(os.Stdin, cmd.OutOrStdout()); err != nil {
				return err
			}
		}

		activeProfile = nil
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		merged := config.Merge(global, project)

		// Profile values fill in config gaps.
		if activeProfile != nil {
			defaults := config.Defaults()
			if merged.DefaultFormat == defaults.DefaultFormat && activeProfile.DefaultFormat != "" {
				merged.DefaultFormat = activeProfile.DefaultFormat
			}
			if merged.Store == defaults.Store && activeProfile.Store != "" {
				merged.Store = activeProfile.Store
			}
			if *merged.PauseOnAnnotation && !activeProfile.PauseOnAnnotation {
				off := false
				merged.PauseOnAnnotation = &off
			}
		}

		// Environment and flags win over files.
		cfg, err = config.ApplyOverrides(merged, overrides)
		if err != nil {
			return err
		}

		return setupLogger(cmd.ErrOrStderr())
	},
}

// setupLogger points logger at --log-file when given, otherwise at w.
func setupLogger(w io.Writer) error {
	if logFile != "" {
		f, err := logging.OpenFile(logFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}
	l, err := logging.New(cfg.LogLevel, w)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active user profile.
func GetProfile() *profile.Profile {
	return activeProfile
}

// creatorID is stamped on annotations created from the command line.
func creatorID() string {
	if activeProfile == nil {
		return ""
	}
	return activeProfile.CreatorID
}

func author() string {
	if activeProfile == nil {
		return ""
	}
	return activeProfile.Name
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("store", "", "annotation store: json or sqlite")
	flags.String("data-dir", "", "directory holding annotations and bookmarks")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")

	cobra.CheckErr(overrides.BindPFlag("store", flags.Lookup("store")))
	cobra.CheckErr(overrides.BindPFlag("data_dir", flags.Lookup("data-dir")))
	cobra.CheckErr(overrides.BindPFlag("log_level", flags.Lookup("log-level")))
}
