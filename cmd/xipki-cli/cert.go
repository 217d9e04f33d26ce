package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var enrollCertProfile string

// enrollCertCmd submits a CSR to a CA for issuance.
var enrollCertCmd = &cobra.Command{
	Use:   "enroll-cert <ca-id> <csr-file>",
	Short: "Submit a CSR for certificate issuance",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		caID, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid ca-id %q: %w", args[0], err))
			return
		}
		// #nosec G304 - CSR file path from CLI argument
		csrPEM, err := os.ReadFile(args[1])
		if err != nil {
			handleError(fmt.Errorf("read csr file: %w", err))
			return
		}
		if enrollCertProfile == "" {
			handleError(fmt.Errorf("--profile is required"))
			return
		}

		var resp struct {
			SerialNumber string `json:"serialNumber"`
			Subject      string `json:"subject"`
			NotBefore    string `json:"notBefore"`
			NotAfter     string `json:"notAfter"`
		}
		if _, err := postJSON(fmt.Sprintf("/ca/%d/issue", caID), map[string]string{
			"profile": enrollCertProfile,
			"csr":     string(csrPEM),
		}, &resp); err != nil {
			handleError(err)
			return
		}

		fmt.Printf("issued certificate serial=%s subject=%q notBefore=%s notAfter=%s\n",
			resp.SerialNumber, resp.Subject, resp.NotBefore, resp.NotAfter)
	},
}

// revokeCertCmd revokes a certificate by serial number.
var revokeCertCmd = &cobra.Command{
	Use:   "revoke-cert <ca-id> <serial-hex> <reason>",
	Short: "Revoke a certificate",
	Long: `Revoke a certificate given its CA id, hex-encoded serial number, and an
RFC 5280 revocation reason (e.g. keyCompromise, cessationOfOperation,
certificateHold, unspecified).`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		caID, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid ca-id %q: %w", args[0], err))
			return
		}

		var resp struct {
			SerialNumber string `json:"serialNumber"`
			Revoked      bool   `json:"revoked"`
		}
		if _, err := postJSON(fmt.Sprintf("/ca/%d/revoke", caID), map[string]string{
			"serial": args[1],
			"reason": args[2],
		}, &resp); err != nil {
			handleError(err)
			return
		}

		fmt.Printf("revoked=%t serial=%s\n", resp.Revoked, resp.SerialNumber)
	},
}

// unsuspendCertCmd reverses a certificateHold revocation.
var unsuspendCertCmd = &cobra.Command{
	Use:   "unsuspend-cert <ca-id> <serial-hex>",
	Short: "Reverse a certificateHold revocation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		caID, err := strconv.Atoi(args[0])
		if err != nil {
			handleError(fmt.Errorf("invalid ca-id %q: %w", args[0], err))
			return
		}

		var resp struct {
			SerialNumber string `json:"serialNumber"`
			Revoked      bool   `json:"revoked"`
		}
		if _, err := postJSON(fmt.Sprintf("/ca/%d/unsuspend", caID), map[string]string{
			"serial": args[1],
		}, &resp); err != nil {
			handleError(err)
			return
		}

		fmt.Printf("revoked=%t serial=%s\n", resp.Revoked, resp.SerialNumber)
	},
}

func init() {
	enrollCertCmd.Flags().StringVar(&enrollCertProfile, "profile", "", "certificate profile to issue against (required)")
}
