package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seedtray/tail"
	"github.com/seedtray/tail/sink"
)

type options struct {
	output        string
	compression   string
	window        int64
	chunkSize     int
	create        bool
	debug         bool
	retryMax      int
	retryInitial  time.Duration
	retryInterval time.Duration
}

func newRootCommand() *cobra.Command {
	retry := tail.DefaultRetryPolicy()
	opts := options{
		output:        "console://",
		compression:   string(sink.CompressionGzip),
		window:        tail.DefaultWindow,
		chunkSize:     tail.DefaultChunkSize,
		create:        true,
		retryMax:      retry.MaxAttempts,
		retryInitial:  retry.InitialInterval,
		retryInterval: retry.MaxInterval,
	}

	cmd := &cobra.Command{
		Use:   "tail [flags] FILE",
		Short: "Follow a file and deliver appended bytes to an output",
		Example: "  tail /var/log/syslog\n" +
			"  tail -o redis://:secret@localhost:6379/logs /var/log/app.log\n" +
			"  tail -o wss://collector.example.com/ingest -c none /var/log/app.log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", opts.output,
		"output url: console://, redis://[user:password@]host[:port]/channel or ws[s]://host[:port]/path")
	flags.StringVarP(&opts.compression, "compression", "c", opts.compression,
		"compression applied to every delivered chunk: none or gzip (ignored for console)")
	flags.Int64VarP(&opts.window, "tail", "t", opts.window, "number of trailing bytes replayed at startup")
	flags.IntVar(&opts.chunkSize, "chunk-size", opts.chunkSize, "maximum size of a delivered chunk in bytes")
	flags.BoolVar(&opts.create, "create", opts.create, "create the file if it does not exist")
	flags.BoolVarP(&opts.debug, "debug", "d", opts.debug, "enable debug logs")
	flags.IntVar(&opts.retryMax, "retry-max", opts.retryMax, "delivery attempts per chunk before it is dropped, 0 retries forever")
	flags.DurationVar(&opts.retryInitial, "retry-initial", opts.retryInitial, "first delay after a failed delivery, 0 disables backoff and retries immediately (with --retry-max 0, until delivered)")
	flags.DurationVar(&opts.retryInterval, "retry-max-interval", opts.retryInterval, "maximum delay between delivery attempts")

	return cmd
}

func run(ctx context.Context, path string, opts options) error {
	compression, err := sink.ParseCompression(opts.compression)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}
	defer logger.Sync()

	cfg := tail.Config{
		Path:      path,
		Window:    opts.window,
		ChunkSize: opts.chunkSize,
		Create:    opts.create,
		Retry: tail.RetryPolicy{
			MaxAttempts:     opts.retryMax,
			InitialInterval: opts.retryInitial,
			MaxInterval:     opts.retryInterval,
		},
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out, err := sink.Open(opts.output, compression, logger.Named("sink"))
	if err != nil {
		return err
	}
	defer out.Close()

	tailer, err := tail.New(cfg, out, logger.Named("tailer"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tailer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("stopped")
		return nil
	}
	return err
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
