package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/call-translator/internal/bridge"
	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/config"
	"github.com/skypro1111/call-translator/internal/metrics"
	"github.com/skypro1111/call-translator/internal/server"
	"github.com/skypro1111/call-translator/internal/telephony"
	"github.com/skypro1111/call-translator/internal/transcript"
	"github.com/skypro1111/call-translator/internal/translation"
	"github.com/skypro1111/call-translator/internal/worker"
)

// run starts every component and blocks until a shutdown signal
func run(cfg *config.Config) error {
	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.ListenAddress()),
		slog.String("source_language", cfg.Session.SourceLanguage),
		slog.String("target_language", cfg.Session.TargetLanguage),
		slog.Bool("dial_enabled", cfg.Telephony.DialEnabled),
		slog.String("public_host", cfg.Telephony.PublicHost),
		slog.String("translation_url", cfg.Translation.BaseURL),
		slog.Bool("mixing_enabled", cfg.Bridge.MixingEnabled),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	broadcaster := transcript.NewBroadcaster(transcript.Config{
		ReplaySize:       cfg.Transcripts.ReplaySize,
		SubscriberBuffer: cfg.Transcripts.SubscriberBuffer,
	}, logger, appMetrics)

	translator, err := translation.NewClient(translationConfig(cfg.Translation), logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create translation client: %w", err)
	}
	logger.Info("Translation client initialized",
		slog.String("base_url", cfg.Translation.BaseURL),
		slog.String("asr_model", cfg.Translation.ASRModel),
	)

	// A nil *TwilioDialer must not reach the manager as a non-nil interface
	var dialer worker.Dialer
	if cfg.Telephony.DialEnabled {
		twilio, err := telephony.NewTwilioDialer(dialerConfig(cfg.Telephony), logger)
		if err != nil {
			return fmt.Errorf("failed to create dialer: %w", err)
		}
		dialer = twilio
		logger.Info("Operator dialing enabled",
			slog.String("from_number", cfg.Telephony.FromNumber),
		)
	}

	opener := worker.OpenerFunc(func(ctx context.Context, session *call.Session) (bridge.TranslationStream, error) {
		stream, err := translator.Open(ctx, session)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	manager, err := worker.NewManager(worker.Config{
		DialTimeout:     cfg.Session.GetDialTimeoutDuration(),
		Bridge:          bridgeConfig(cfg.Bridge),
		MaxSessions:     cfg.Session.MaxSessions,
		MaxCallDuration: cfg.Session.GetMaxCallDuration(),
		ReapInterval:    cfg.Session.GetReapIntervalDuration(),
	}, opener, dialer, broadcaster, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	logger.Info("Session manager initialized",
		slog.Duration("dial_timeout", cfg.Session.GetDialTimeoutDuration()),
		slog.Duration("max_call_duration", cfg.Session.GetMaxCallDuration()),
	)

	httpServer := server.NewHTTPServer(cfg, logger, manager, broadcaster, translator, appMetrics, prometheus.DefaultGatherer)
	if err := httpServer.Start(); err != nil {
		manager.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new calls)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Release every session, then disconnect observers
	manager.Stop()
	broadcaster.Close()

	stats := manager.GetStats()
	logger.Info("Final session statistics",
		slog.Uint64("sessions_created", stats.TotalCreated),
		slog.Uint64("sessions_closed", stats.TotalClosed),
		slog.Uint64("transcripts_published", broadcaster.GetStats().Published),
	)

	logger.Info("Service stopped")
	return nil
}

func translationConfig(tc config.TranslationConfig) translation.Config {
	task := translation.DefaultTaskOptions()
	task.ASRModel = tc.ASRModel
	task.SilenceThreshold = tc.SilenceThreshold
	task.TranslatePartial = tc.TranslatePartial
	task.ExtraDetectableLanguage = tc.DetectableLanguages

	return translation.Config{
		BaseURL:              tc.BaseURL,
		ClientID:             tc.ClientID,
		ClientSecret:         tc.ClientSecret,
		Timeout:              tc.GetTimeoutDuration(),
		MaxRetries:           tc.MaxRetries,
		RetryInitialInterval: tc.GetRetryInitialInterval(),
		RetryMaxInterval:     tc.GetRetryMaxInterval(),
		PingInterval:         tc.GetPingIntervalDuration(),
		PongTimeout:          tc.GetPongTimeoutDuration(),
		WriteTimeout:         tc.GetWriteTimeoutDuration(),
		EventBuffer:          tc.EventBuffer,
		Task:                 task,
	}
}

func dialerConfig(tc config.TelephonyConfig) telephony.DialerConfig {
	return telephony.DialerConfig{
		AccountSID:  tc.AccountSID,
		AuthToken:   tc.AuthToken,
		FromNumber:  tc.FromNumber,
		APIBaseURL:  tc.APIBaseURL,
		Endpoints:   telephony.Endpoints{Host: tc.PublicHost, Insecure: tc.Insecure},
		RingTimeout: tc.GetRingTimeoutDuration(),
		MaxRetries:  tc.MaxRetries,
	}
}

func bridgeConfig(bc config.BridgeConfig) bridge.Config {
	return bridge.Config{
		Mixing: bridge.MixingConfig{
			Enabled:        bc.MixingEnabled,
			OriginalGain:   bc.OriginalGain,
			TranslatedGain: bc.TranslatedGain,
		},
		UplinkQueue:       bc.UplinkQueue,
		DownlinkQueue:     bc.DownlinkQueue,
		SendTimeout:       bc.GetSendTimeoutDuration(),
		DropThreshold:     bc.DropThreshold,
		DrainTimeout:      bc.GetDrainTimeoutDuration(),
		OriginalBacklog:   bc.OriginalBacklog,
		ActivityThreshold: float32(bc.ActivityThreshold),
	}
}
