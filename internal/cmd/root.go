// Package cmd contains the meshgate CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshgate",
	Short: "API gateway with adaptive rate limiting, OAuth2, and service-mesh dispatch",
	Long: `meshgate is an API gateway edge service: an adaptive rate limiter
backed by a shared Redis counter store, a JWT security provider, an OAuth2
authorization server, and circuit-breaker-isolated dispatch to backend
services in an Istio or Linkerd mesh.

Use the subcommands to perform specific operations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(func() {
		observability.InitCLILogger(verbose)
	})

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config and the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}
