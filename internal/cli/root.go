// Package cli implements the tavern CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/miounet11/mySillyTavern-sub001/internal/config"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
	"github.com/miounet11/mySillyTavern-sub001/internal/store/postgres"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	dbFlag     string
	formatFlag string
	verbose    bool

	cfg *config.Config
	log = zap.NewNop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "tavern",
	Short: "Character chat prompt pipeline",
	Long: "Manage characters, chats and lore, assemble budgeted prompts with world info, " +
		"and run model turns with rolling summaries. SQLite or Postgres backed.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = log.Sync() },
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	RootCmd.PersistentFlags().StringVarP(&dbFlag, "db", "d", "", "Database DSN or SQLite path (default: $TAVERN_DB or ~/.tavern/tavern.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbFlag != "" {
		c.Database.DSN = resolveDSN(dbFlag)
		if err := c.Validate(); err != nil {
			return err
		}
	}
	cfg = c

	logger, err := newLogger(verbose)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	log = logger
	return nil
}

// newLogger logs JSON to stderr so stdout stays machine readable.
func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

// resolveDSN treats anything without a scheme as a SQLite path.
func resolveDSN(v string) string {
	if strings.Contains(v, "://") {
		return v
	}
	return "sqlite://" + v
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openStore(ctx context.Context) (store.Store, error) {
	if isPostgres(cfg.Database.DSN) {
		c, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	s, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// readContent joins positional args, falling back to piped stdin.
func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func textFormat() bool {
	return formatFlag == "text"
}

func exitErr(msg string, err error) {
	_ = log.Sync()
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
