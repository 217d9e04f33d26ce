package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

// rootCmd is the base command for the xipki-cli binary, an HTTP client for
// the CA/OCSP REST surface exposed by the xipki server.
var rootCmd = &cobra.Command{
	Use:   "xipki-cli",
	Short: "Command-line client for a xipki CA instance",
	Long: `xipki-cli talks to a running xipki server over HTTP to enroll and
revoke certificates, unsuspend certificates on hold, fetch or regenerate
CRLs, and list configured CAs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"base URL of the xipki server")

	rootCmd.AddCommand(enrollCertCmd)
	rootCmd.AddCommand(revokeCertCmd)
	rootCmd.AddCommand(unsuspendCertCmd)
	rootCmd.AddCommand(crlCmd)
	rootCmd.AddCommand(newCRLCmd)
	rootCmd.AddCommand(cacertsCmd)
}

func handleError(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
