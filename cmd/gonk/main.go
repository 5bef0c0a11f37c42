package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ComputeHeavy/gonk/internal/app"
	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/encryption"
	"github.com/ComputeHeavy/gonk/internal/gonk"
	"github.com/ComputeHeavy/gonk/internal/server"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and wires an App with a file+stderr logger. The
// caller must defer both cleanup funcs.
func newApp() (*app.App, gonk.Logger, func(), error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading config: %w", err)
	}

	slogger, logFile, err := app.NewLogger(cfg.LogDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &app.SlogAdapter{L: slogger}

	a, err := app.New(cfg, logger)
	if err != nil {
		logFile.Close()
		return nil, nil, nil, fmt.Errorf("initializing app: %w", err)
	}
	cleanup := func() {
		a.Close()
		logFile.Close()
	}
	return a, logger, cleanup, nil
}

func showAPIKey(username, apiKey string) {
	fmt.Println("== THIS API KEY WILL ONLY BE SHOWN ONCE ==")
	fmt.Printf("USER: %s\n", username)
	fmt.Printf("KEY: %s\n\n", apiKey)
}

var rootCmd = &cobra.Command{
	Use:   "gonk",
	Short: "Event-sourced annotated dataset backend",
}

var initUsername string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the first user",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}
		if err := os.MkdirAll(cfg.DatasetsDir(), 0755); err != nil {
			return fmt.Errorf("creating datasets directory: %w", err)
		}

		if cfg.Depot.Encryption == "age" {
			enc := encryption.NewAge(cfg.Depot.AgeIdentityPath)
			if err := enc.Setup(); err != nil {
				return fmt.Errorf("setting up depot encryption: %w", err)
			}
		}

		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		key, err := a.Users().Add(initUsername)
		if err != nil {
			return fmt.Errorf("adding user: %w", err)
		}
		if a.Keys() != nil {
			if err := a.Keys().Generate(initUsername); err != nil {
				return fmt.Errorf("generating signing key: %w", err)
			}
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n\n", defaults["base_dir"])
		showAPIKey(initUsername, key)
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and API keys",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		key, err := a.Users().Add(args[0])
		if err != nil {
			return fmt.Errorf("adding user: %w", err)
		}
		if a.Keys() != nil {
			if err := a.Keys().Generate(args[0]); err != nil {
				return fmt.Errorf("generating signing key: %w", err)
			}
		}
		showAPIKey(args[0], key)
		return nil
	},
}

var userRekeyCmd = &cobra.Command{
	Use:   "rekey <username>",
	Short: "Replace a user's API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		key, err := a.Users().Rekey(args[0])
		if err != nil {
			return fmt.Errorf("rekeying user: %w", err)
		}
		showAPIKey(args[0], key)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		list, err := a.Users().List()
		if err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		for _, u := range list {
			fmt.Printf("%d\t%s\n", u.ID, u.Username)
		}
		return nil
	},
}

var userKeyImportCmd = &cobra.Command{
	Use:   "import-key <username>",
	Short: "Import a signing key seed (signature mode)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if a.Keys() == nil {
			return fmt.Errorf("installation is not in signature mode")
		}
		fmt.Print("Seed (hex, not echoed): ")
		seed, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading seed: %w", err)
		}
		if err := a.Keys().ImportSeed(args[0], string(seed)); err != nil {
			return fmt.Errorf("importing key: %w", err)
		}
		fmt.Printf("Signing key imported for %s\n", args[0])
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		return server.New(a, logger).Start()
	},
}

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Offline dataset maintenance",
}

var datasetVerifyCmd = &cobra.Command{
	Use:   "verify <name>",
	Short: "Recompute integrity tokens over a dataset's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		firstBad, ok, err := a.VerifyDataset(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("integrity failure at sequence %d", firstBad)
		}
		fmt.Println("OK")
		return nil
	},
}

var datasetRebuildCmd = &cobra.Command{
	Use:   "rebuild <name>",
	Short: "Rebuild the state projection by replaying the log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.RebuildDataset(args[0]); err != nil {
			return err
		}
		fmt.Println("Rebuilt")
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initUsername, "username", "", "first user to create")
	initCmd.MarkFlagRequired("username")

	userCmd.AddCommand(userAddCmd, userRekeyCmd, userListCmd, userKeyImportCmd)
	datasetCmd.AddCommand(datasetVerifyCmd, datasetRebuildCmd)
	rootCmd.AddCommand(initCmd, userCmd, serveCmd, datasetCmd)
}
