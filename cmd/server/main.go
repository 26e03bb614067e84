package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/call-translator/internal/config"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	serviceName       = "call-translator"
	serviceVersion    = "1.0.0"
)

var (
	// Global flags
	configPath string
	envFile    string
)

// rootCmd runs the service
var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Real-time phone call translation bridge",
	Long: `call-translator bridges a client phone call and an operator phone call
through a speech translation service. Each party hears the other in their own
language, and transcripts are streamed to observers over WebSocket.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, serviceVersion)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without starting the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "VALID: %s (%s -> %s, dialing enabled: %t)\n",
			configPath, cfg.Session.SourceLanguage, cfg.Session.TargetLanguage, cfg.Telephony.DialEnabled)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath,
		"path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile,
		"dotenv file loaded before the configuration")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads the dotenv file and then the configuration.
// A missing default dotenv file is not an error.
func loadConfig() (*config.Config, error) {
	path := envFile
	if path == defaultEnvFile {
		path = ""
	}
	if err := config.LoadEnv(path); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
