package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/autofi/internal/config"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	ownerID      string
	caCertFile   string
)

var rootCmd = &cobra.Command{
	Use:   "autofi",
	Short: "AutoFI video optimization service and client",
	Long: `autofi turns a YouTube video or an uploaded file into suggested titles,
descriptions, tags and advisory virality scores.

Run "autofi serve" to start the API and pipeline workers, and the "videos"
commands to submit and follow jobs against a running server.`,
	SilenceUsage: true,
	Version:      version,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./autofi.yaml, ~/.autofi, /etc/autofi)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API URL (default from AUTOFI_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default from AUTOFI_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "user", "", "owner id sent as X-User-ID (default from AUTOFI_USER_ID)")
	rootCmd.PersistentFlags().StringVar(&caCertFile, "ca-cert", "", "CA certificate used to verify the server")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig loads .env and resolves client settings that were not given
// as flags
func initConfig() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.BindEnv("server_url")
	viper.BindEnv("api_key")
	viper.BindEnv("user_id")
	viper.BindEnv("ca_cert")

	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if ownerID == "" {
		ownerID = viper.GetString("user_id")
	}
	if caCertFile == "" {
		caCertFile = viper.GetString("ca_cert")
	}
}

// GetServerURL returns the API URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
