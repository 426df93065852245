// Package commands wires Stratum's cobra CLI onto pkg/core: each
// subcommand builds a *core.Basis from the same persistent flags (data
// directory, database path, config sources) and drives Init/Run/Close,
// matching the external-CLI-layer boundary spec.md section 6 describes
// ("No CLI or file format is part of the core; the external CLI layer
// consumes init() and run(task)").
package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stratumhq/stratum/pkg/core"
	"github.com/stratumhq/stratum/pkg/factory"
	"github.com/stratumhq/stratum/pkg/plugins/sshexec"
	"github.com/stratumhq/stratum/pkg/plugins/versioncmd"
	"github.com/stratumhq/stratum/pkg/plugins/wasmhost"
	"github.com/stratumhq/stratum/pkg/policy"
	"github.com/stratumhq/stratum/pkg/serverclient"
)

var (
	dataDir      string
	dbPath       string
	basisName    string
	providerDir  string
	configFiles  []string
	enablePolicy bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stratum",
		Short: "Stratum orchestrates VM/workload pipelines over user-supplied plugins",
		Long: `Stratum composes user-supplied plugins into command pipelines executed
against a persistent server. It owns plugin factories, dynamic function
invocation, component specialization, and cascading resource closure.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".stratum", "Basis data directory")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".stratum/stratum.db", "SQLite persistence database path")
	rootCmd.PersistentFlags().StringVar(&basisName, "basis", "default", "Basis name to resolve or create")
	rootCmd.PersistentFlags().StringVar(&providerDir, "provider-dir", ".stratum/providers", "WASM provider manifest directory")
	rootCmd.PersistentFlags().StringSliceVar(&configFiles, "config", nil, "CUE configuration source files")
	rootCmd.PersistentFlags().BoolVar(&enablePolicy, "policy", false, "enable the built-in OPA policy gate")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newRunCommand())

	return rootCmd
}

// newBasis constructs the Basis shared by every subcommand: a SQLite
// Persistence Client, the Factory Registry seeded with every bundled
// plugin, and (when --policy is set) the OPA gate Basis.Run evaluates
// before dispatch.
func newBasis(ctx context.Context) (*core.Basis, error) {
	client, err := serverclient.NewSQLiteClient(ctx, serverclient.SQLiteConfig{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("opening persistence client: %w", err)
	}

	reg := factory.New()
	versioncmd.Register(reg, "dev")
	sshexec.Register(reg)
	wasmhost.Register(reg, providerDir, nil)

	opts := []core.Option{
		core.WithClient(client),
		core.WithDataDir(dataDir),
		core.WithFactories(reg),
		core.WithConfigSources(configFiles),
		core.WithBasisName(ctx, basisName, filepath.Clean(dataDir)),
	}

	if enablePolicy {
		engine, err := policy.NewEngine(zerolog.Nop())
		if err != nil {
			return nil, fmt.Errorf("constructing policy engine: %w", err)
		}
		opts = append(opts, core.WithPolicyEngine(engine))
	}

	b, err := core.NewBasis(ctx, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	b.Closer(func() error { return client.Close() })
	return b, nil
}

// printCommandTree renders Init's flattened command records, used by the
// "init" subcommand to confirm plugin enumeration end to end.
func printCommandTree(records []core.CommandRecord) {
	for _, r := range records {
		fmt.Printf("%-20s %s\n", r.Name, r.Synopsis)
	}
}
