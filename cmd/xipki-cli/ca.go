package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cacertsCmd lists the CAs configured on the server.
var cacertsCmd = &cobra.Command{
	Use:   "cacerts",
	Short: "List configured CAs and their certificates",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var cas []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Subject string `json:"subject"`
			CertPEM string `json:"certPem"`
		}
		if _, err := getJSON("/ca", &cas); err != nil {
			handleError(err)
			return
		}
		for _, ca := range cas {
			fmt.Printf("%d\t%s\t%s\n", ca.ID, ca.Name, ca.Subject)
		}
	},
}
