package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var crlOutFile string

// crlCmd fetches the most recently generated CRL without generating a new one.
var crlCmd = &cobra.Command{
	Use:   "crl <ca-id>",
	Short: "Fetch the latest generated CRL for a CA",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		caID, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid ca-id %q: %w", args[0], err))
			return
		}
		der, err := getJSON(fmt.Sprintf("/ca/%d/crl", caID), nil)
		if err != nil {
			handleError(err)
			return
		}
		writeCRLOutput(der)
	},
}

// newCRLCmd forces generation of a fresh full CRL.
var newCRLCmd = &cobra.Command{
	Use:   "new-crl <ca-id>",
	Short: "Generate a new full CRL for a CA",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		caID, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid ca-id %q: %w", args[0], err))
			return
		}
		der, err := postJSON(fmt.Sprintf("/ca/%d/crl", caID), nil, nil)
		if err != nil {
			handleError(err)
			return
		}
		writeCRLOutput(der)
	},
}

func writeCRLOutput(der []byte) {
	if crlOutFile == "" {
		_, _ = os.Stdout.Write(der)
		return
	}
	if err := os.WriteFile(crlOutFile, der, 0o644); err != nil {
		handleError(fmt.Errorf("write crl file: %w", err))
		return
	}
	fmt.Printf("wrote %d bytes to %s\n", len(der), crlOutFile)
}

func init() {
	crlCmd.Flags().StringVarP(&crlOutFile, "out", "o", "", "write the DER-encoded CRL to this file instead of stdout")
	newCRLCmd.Flags().StringVarP(&crlOutFile, "out", "o", "", "write the DER-encoded CRL to this file instead of stdout")
}
