package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/pbvision/pbv-upload/config"
	"github.com/pbvision/pbv-upload/partner"
	"github.com/pbvision/pbv-upload/upload"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `Usage:
  pbv-upload [flags] <file or glob>...
  pbv-upload webhook <https-url>
  pbv-upload add-url [--emails a@x,b@y] <video-url.mp4>

Configuration is read from PBV_* environment variables.
`

type uploadOptions struct {
	Extension   string
	UploadID    string
	Emails      []string
	Concurrency int
	Debug       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger()
	if err := run(ctx, os.Args[1:], env.NewRepository(), logger, os.Stdout); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, envRepo env.Repository, logger log.Logger, out io.Writer) error {
	cfg, err := config.Load(envRepo)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.EnableDebugLog(cfg.Debug)

	if len(args) > 0 {
		switch args[0] {
		case "webhook":
			return runWebhook(ctx, cfg, args[1:], logger, out)
		case "add-url":
			return runAddURL(ctx, cfg, args[1:], logger, out)
		}
	}
	return runUpload(ctx, cfg, args, logger)
}

func runUpload(ctx context.Context, cfg config.Config, args []string, logger log.Logger) error {
	var opts uploadOptions
	fs := pflag.NewFlagSet("pbv-upload", pflag.ContinueOnError)
	fs.StringVar(&opts.Extension, "ext", "", "Object extension, defaults to the file extension or mp4")
	fs.StringVar(&opts.UploadID, "upload-id", "", "Upload ID (32 lowercase hex characters), only with a single file")
	fs.StringSliceVar(&opts.Emails, "emails", nil, "Player emails to notify once the video is processed")
	fs.IntVar(&opts.Concurrency, "concurrency", 2, "Number of files uploaded at the same time")
	fs.BoolVar(&opts.Debug, "debug", cfg.Debug, "Enable debug logs")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger.EnableDebugLog(opts.Debug)

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no files given")
	}
	if opts.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", opts.Concurrency)
	}

	files, err := newPathExpander(logger).expand(fs.Args())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no files matched")
	}
	if opts.UploadID != "" && len(files) > 1 {
		return fmt.Errorf("--upload-id can only be used with a single file, %d matched", len(files))
	}

	uploader, err := upload.NewUploader(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Infof("Uploading %d file(s) to %s (%s environment)", len(files), cfg.Environment.Bucket, cfg.Environment.Name)

	results := make([]*upload.Result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			result, err := uploader.Upload(ctx, upload.Params{
				FilePath:     file,
				Extension:    opts.Extension,
				UploadID:     opts.UploadID,
				PlayerEmails: opts.Emails,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var total int64
	logger.Println()
	for i, result := range results {
		total += result.Size
		logger.Printf("%s -> %s/%s", files[i], result.Bucket, result.ObjectName)
	}
	logger.Donef("%d file(s) uploaded, %s in total", len(results), units.HumanSizeWithPrecision(float64(total), 3))
	if stats := uploader.Stats(); stats != nil && stats.FinishedCount() > 0 {
		logger.Printf("%d chunk(s), average %s per chunk, %s/s", stats.FinishedCount(),
			stats.Average().Round(time.Millisecond), units.HumanSizeWithPrecision(stats.Throughput(), 3))
	}
	return nil
}

func runWebhook(ctx context.Context, cfg config.Config, args []string, logger log.Logger, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: pbv-upload webhook <https-url>")
	}

	client, err := partner.NewClient(string(cfg.APIKey), cfg.Environment.APIServer, logger)
	if err != nil {
		return err
	}
	resp, err := client.SetRetries(cfg.MaxRetries).SetWebhook(ctx, args[0])
	if err != nil {
		return err
	}

	logger.Donef("Webhook set to %s", args[0])
	if resp != "" {
		fmt.Fprintln(out, resp)
	}
	return nil
}

func runAddURL(ctx context.Context, cfg config.Config, args []string, logger log.Logger, out io.Writer) error {
	var emails []string
	fs := pflag.NewFlagSet("add-url", pflag.ContinueOnError)
	fs.StringSliceVar(&emails, "emails", nil, "Player emails to notify once the video is processed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: pbv-upload add-url [--emails a@x,b@y] <video-url.mp4>")
	}

	client, err := partner.NewClient(string(cfg.APIKey), cfg.Environment.APIServer, logger)
	if err != nil {
		return err
	}
	resp, err := client.SetRetries(cfg.MaxRetries).SendVideoURLToDownload(ctx, fs.Arg(0), emails)
	if err != nil {
		return err
	}

	logger.Donef("Video submitted: %s", fs.Arg(0))
	if resp != "" {
		fmt.Fprintln(out, resp)
	}
	return nil
}
