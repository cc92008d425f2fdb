package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/download"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/render"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/resolver"
	"github.com/pluglist-tools/moodle-plugin-lookup/pkg/api"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type commandFunc func(ctx context.Context, cmd *cobra.Command, args []string, l lookupAPI) (any, error)

// lookupCommand wires a command to the lookup API and renders its result.
func lookupCommand(log *logrus.Logger, cmd *cobra.Command, fn commandFunc) *cobra.Command {
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		l, err := newLookupAPI(ctx, log, cmd)
		if err != nil {
			return err
		}
		res, err := fn(ctx, cmd, args, l)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		return render.Write(cmd.OutOrStdout(), format, res)
	}
	return cmd
}

func constraintFlag(cmd *cobra.Command) (resolver.Constraint, error) {
	identifier := must(cmd.Flags().GetString("moodle"))
	if identifier == "" {
		return resolver.Constraint{}, errors.New("--moodle is required")
	}
	return resolver.ParseIdentifier(identifier)
}

func addConstraintFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("moodle", "m", "", `Moodle version ("2022112800") or release ("4.1")`)
}

func newFindCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find PLUGIN...",
		Short: "Find the latest release of plugins compatible with a Moodle version",
		Args:  cobra.MinimumNArgs(1),
	}
	addConstraintFlag(cmd)
	return lookupCommand(log, cmd, func(ctx context.Context, cmd *cobra.Command, args []string, l lookupAPI) (any, error) {
		c, err := constraintFlag(cmd)
		if err != nil {
			return nil, err
		}
		res, err := l.FindLatestVersions(ctx, args, c)
		if err != nil {
			return nil, err
		}
		if len(res.Results) == 1 && res.Results[0].Found {
			return res.Results[0].Response, nil
		}
		return res, nil
	})
}

func newVersionsCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions PLUGIN",
		Short: "List all releases of a plugin",
		Args:  cobra.ExactArgs(1),
	}
	return lookupCommand(log, cmd, func(ctx context.Context, _ *cobra.Command, args []string, l lookupAPI) (any, error) {
		return l.ListVersions(ctx, args[0])
	})
}

func newStatusCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the plugin list cache",
		Args:  cobra.NoArgs,
	}
	return lookupCommand(log, cmd, func(ctx context.Context, _ *cobra.Command, _ []string, l lookupAPI) (any, error) {
		return l.CacheStatus(ctx)
	})
}

func newClearCacheCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove the cached plugin list",
		Args:  cobra.NoArgs,
	}
	return lookupCommand(log, cmd, func(ctx context.Context, _ *cobra.Command, _ []string, l lookupAPI) (any, error) {
		if err := l.ClearCache(ctx); err != nil {
			return nil, err
		}
		return render.Message("Cache cleared successfully. Next request will fetch fresh data."), nil
	})
}

func newRawCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raw",
		Short: "Print the raw plugin list document",
		Args:  cobra.NoArgs,
	}
	return lookupCommand(log, cmd, func(ctx context.Context, cmd *cobra.Command, _ []string, l lookupAPI) (any, error) {
		raw, err := l.RawPluglist(ctx)
		if err != nil {
			return nil, err
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return nil, err
	})
}

func newDownloadCommand(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download PLUGIN...",
		Short: "Download the latest compatible release archives",
		Args:  cobra.MinimumNArgs(1),
	}
	addConstraintFlag(cmd)
	cmd.Flags().StringP("dir", "d", ".", "target directory")
	cmd.Flags().Bool("bundle", false, "pack all archives into a single .tar.gz")
	return lookupCommand(log, cmd, func(ctx context.Context, cmd *cobra.Command, args []string, l lookupAPI) (any, error) {
		c, err := constraintFlag(cmd)
		if err != nil {
			return nil, err
		}
		res, err := l.FindLatestVersions(ctx, args, c)
		if err != nil {
			return nil, err
		}
		releases, err := releasesFromBatch(res)
		if err != nil {
			return nil, err
		}

		if must(cmd.Flags().GetBool("bundle")) {
			log.Infof("bundling %d plugin archives...", len(releases))
			fileName, checksum, err := download.Bundle(ctx, releases)
			if err != nil {
				return nil, err
			}
			return &render.DownloadResult{Files: []string{fileName}, Checksum: checksum}, nil
		}

		dir := must(cmd.Flags().GetString("dir"))
		result := &render.DownloadResult{}
		for _, r := range releases {
			log.Infof("downloading %s...", r.FileName())
			path, err := download.ToDir(ctx, r, dir)
			if err != nil {
				return nil, err
			}
			result.Files = append(result.Files, path)
		}
		return result, nil
	})
}

func releasesFromBatch(res *api.BatchResponse) ([]*download.Release, error) {
	releases := make([]*download.Release, 0, len(res.Results))
	for _, r := range res.Results {
		if !r.Found {
			return nil, errors.New(r.Message)
		}
		releases = append(releases, download.FromFindResponse(r.Response))
	}
	return releases, nil
}
