package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/zarniwp/cuba/internal/config"
	"github.com/zarniwp/cuba/internal/cuberr"
	"github.com/zarniwp/cuba/internal/engine"
	"github.com/zarniwp/cuba/internal/password"
)

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd, verifyCmd, cleanCmd, passwordCmd, configCmd, profileCmd)
}

// runOperation wires a fresh cubaApp, runs op under signal-driven
// cancellation, reports the result, and returns an error cobra can use
// to compute the process exit code (spec.md §6), following the
// teacher's cmd/bt/main.go command bodies (newApp, run, report, Close).
func runOperation(profile string, op func(ctx context.Context, app *cubaApp) engine.Result) error {
	ctx, cancel := withCancelOnSignal()
	defer cancel()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	startedAt := time.Now().UTC()
	res := op(ctx, app)
	reportResult(res, app.history, startedAt, time.Now().UTC())

	if res.Err != nil {
		return res.Err
	}
	return nil
}

var backupCmd = &cobra.Command{
	Use:   "backup <profile>",
	Short: "Back up a profile's source tree to its destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(args[0], func(ctx context.Context, app *cubaApp) engine.Result {
			return app.orchestrator.Backup(ctx, args[0])
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <profile>",
	Short: "Restore a profile's files from its destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(args[0], func(ctx context.Context, app *cubaApp) engine.Result {
			return app.orchestrator.Restore(ctx, args[0])
		})
	},
}

var verifyAllFiles bool

var verifyCmd = &cobra.Command{
	Use:   "verify <profile>",
	Short: "Verify a profile's destination objects against recorded metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(args[0], func(ctx context.Context, app *cubaApp) engine.Result {
			return app.orchestrator.Verify(ctx, args[0], verifyAllFiles)
		})
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyAllFiles, "all", false, "rehash every destination object's plaintext, not just check existence")
}

var cleanCmd = &cobra.Command{
	Use:   "clean <profile>",
	Short: "Delete orphaned destination objects and stale metadata entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOperation(args[0], func(ctx context.Context, app *cubaApp) engine.Result {
			return app.orchestrator.Clean(ctx, args[0])
		})
	},
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage passphrases used by encrypted profiles and authenticated filesystems",
}

var passwordSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Prompt for a secret and store it under the given password id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		secret, err := promptSecret(fmt.Sprintf("passphrase for %q: ", id))
		if err != nil {
			return cuberr.New(cuberr.KindIO, err)
		}
		if secret == "" {
			return cuberr.Wrap(cuberr.KindConfig, "refusing to store an empty passphrase for %q", id)
		}

		provider := newPasswordProvider()
		setter, ok := provider.(password.Setter)
		if !ok {
			return cuberr.Wrap(cuberr.KindInternal, "password provider does not support storing secrets")
		}
		if err := setter.Set(id, secret); err != nil {
			return cuberr.New(cuberr.KindAuth, err)
		}
		fmt.Printf("password set for %q\n", id)
		return nil
	},
}

func init() {
	passwordCmd.AddCommand(passwordSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or scaffold cuba's configuration file",
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Write a documented example configuration",
}

var configExampleWriteCmd = &cobra.Command{
	Use:   "write [path]",
	Short: "Write an example cuba.toml to path (or the default config location)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPathArg(args)
		if err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		if err := config.WriteExampleTo(path); err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		fmt.Printf("wrote example configuration to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active, validated configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := getDefaults()
		if err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		cfg, err := config.ReadFromFile(d.ConfigPath)
		if err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg, "toml")
	},
}

func init() {
	configCmd.AddCommand(configExampleCmd, configShowCmd)
	configExampleCmd.AddCommand(configExampleWriteCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect configured profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every profile name in the active configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := getDefaults()
		if err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		cfg, err := config.ReadFromFile(d.ConfigPath)
		if err != nil {
			return cuberr.New(cuberr.KindConfig, err)
		}
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.Profiles[name]
			fmt.Printf("%s\t%s/%s -> %s/%s\tcompress=%v encrypt=%v\n", name, p.SourceFS, p.SourceRoot, p.DestFS, p.DestRoot, p.Compress, p.Encrypt)
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd)
}

// configPathArg resolves the target path for `config example write`:
// an explicit argument, or the default config location.
func configPathArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	d, err := getDefaults()
	if err != nil {
		return "", err
	}
	return d.ConfigPath, nil
}
