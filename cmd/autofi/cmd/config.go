package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/autofi/internal/config"
	"github.com/psantana5/autofi/pkg/auth"
	tlsutil "github.com/psantana5/autofi/pkg/tls"
)

var (
	certFile  string
	keyFile   string
	certHosts []string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration and create credentials",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective server configuration with secrets masked",
	Long: `Print the configuration "autofi serve" would run with, after merging
defaults, the config file, .env and AUTOFI_* environment variables.`,
	RunE: runConfigShow,
}

var configHashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Hash an API key for server.api_key_hashes",
	Long: `Hash an API key with bcrypt. Without an argument a new random key is
generated; give the key to the client and put the hash in the server config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigHashKey,
}

var configGenCertCmd = &cobra.Command{
	Use:   "gen-cert",
	Short: "Generate a self-signed TLS certificate for local use",
	RunE:  runConfigGenCert,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configHashKeyCmd, configGenCertCmd)

	configGenCertCmd.Flags().StringVar(&certFile, "cert", "certs/autofi.crt", "certificate output file")
	configGenCertCmd.Flags().StringVar(&keyFile, "key", "certs/autofi.key", "private key output file")
	configGenCertCmd.Flags().StringSliceVar(&certHosts, "host", nil, "extra IP addresses or hostnames for the certificate")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: configuration is invalid:\n%v\n\n", err)
	}

	if IsJSONOutput() {
		return printJSON(cfg.Redacted())
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigHashKey(cmd *cobra.Command, args []string) error {
	var key, hash string
	var err error
	if len(args) == 1 {
		key = args[0]
		hash, err = auth.HashAPIKey(key)
	} else {
		key, hash, err = auth.GenerateAPIKey()
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(map[string]string{"key": key, "hash": hash})
	}
	if len(args) == 0 {
		fmt.Printf("API key: %s\n", key)
	}
	fmt.Printf("Hash:    %s\n", hash)
	return nil
}

func runConfigGenCert(cmd *cobra.Command, args []string) error {
	if err := tlsutil.GenerateSelfSignedCert(certFile, keyFile, "autofi", certHosts...); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", certFile, keyFile)
	fmt.Println("Set server.tls_cert and server.tls_key, and pass --ca-cert to clients.")
	return nil
}
