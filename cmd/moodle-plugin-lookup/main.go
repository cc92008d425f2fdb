package main

import (
	"os"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/config"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/render"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	// stdout carries command output and the stdio protocol
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// loadConfig reads the environment and applies the flags that were set on
// the command line.
func loadConfig(log *logrus.Logger, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Version = version
	flags := cmd.Flags()
	if flags.Changed("cache-backend") {
		cfg.CacheBackend = must(flags.GetString("cache-backend"))
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = must(flags.GetString("cache-dir"))
	}
	if flags.Changed("pluglist-url") {
		cfg.PluglistURL = must(flags.GetString("pluglist-url"))
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = must(flags.GetString("log-level"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return cfg, nil
}

func outputFormat(cmd *cobra.Command) (render.Format, error) {
	return render.ParseFormat(must(cmd.Flags().GetString("output")))
}

func newRootCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "moodle-plugin-lookup",
		Short:         "Look up Moodle plugin releases compatible with a Moodle version",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().StringP("output", "o", string(render.FormatText), "output format (text, json or yaml)")
	cmd.PersistentFlags().String("server-url", os.Getenv("MOODLE_PLUGIN_LOOKUP_SERVER_URL"), "query a lookup server instead of the local cache")
	cmd.PersistentFlags().String("cache-backend", config.CacheBackendFile, "cache backend (memory, file or s3)")
	cmd.PersistentFlags().String("cache-dir", "", "directory of the file cache (defaults to the temp directory)")
	cmd.PersistentFlags().String("pluglist-url", "", "plugin directory URL")
	cmd.PersistentFlags().String("log-level", "info", "log level")
	cmd.PersistentFlags().SortFlags = false

	cmd.AddCommand(
		newServeCommand(log),
		newStdioCommand(log),
		newFindCommand(log),
		newVersionsCommand(log),
		newStatusCommand(log),
		newClearCacheCommand(log),
		newRawCommand(log),
		newDownloadCommand(log),
	)
	return cmd
}

func main() {
	log := setupLogger()
	if err := newRootCommand(log).Execute(); err != nil {
		log.Errorf("ERROR: %v", err)
		os.Exit(1)
	}
}
