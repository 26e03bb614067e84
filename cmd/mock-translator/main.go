// Command mock-translator runs a local fake of the translation service for
// development: session storage plus per-session WebSockets that echo audio
// and emit transcriptions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/call-translator/internal/translation/translationtest"
)

var (
	listenAddr      string
	clientID        string
	clientSecret    string
	echo            bool
	transcriptEvery int
	processingDelay time.Duration
	stringData      bool
	verbose         bool
)

var rootCmd = &cobra.Command{
	Use:          "mock-translator",
	Short:        "Local fake of the speech translation service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&listenAddr, "addr", "a", ":9000", "listen address")
	flags.StringVar(&clientID, "client-id", "", "required ClientId header, empty accepts any")
	flags.StringVar(&clientSecret, "client-secret", "", "required ClientSecret header, empty accepts any")
	flags.BoolVar(&echo, "echo", true, "send input audio back as translated audio")
	flags.IntVar(&transcriptEvery, "transcript-every", 50, "emit transcriptions after every N audio messages, 0 disables")
	flags.DurationVar(&processingDelay, "delay", 200*time.Millisecond, "simulated processing delay before echoing audio")
	flags.BoolVar(&stringData, "string-data", false, "encode message data as JSON strings")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func run() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	fake := translationtest.NewServer(translationtest.Options{
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		Echo:            echo,
		TranscriptEvery: transcriptEvery,
		StringData:      stringData,
		ProcessingDelay: processingDelay,
	}, logger)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: fake,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Mock translation service starting",
			slog.String("address", listenAddr),
			slog.Bool("echo", echo),
			slog.Int("transcript_every", transcriptEvery),
		)
		logger.Info("Point the service at it with translation.base_url",
			slog.String("base_url", fmt.Sprintf("http://localhost%s", listenAddr)),
		)
		errc <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Mock translation service stopping")
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
