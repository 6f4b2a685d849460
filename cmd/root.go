package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Credential service",
	Long:  `A credential service providing password login, an emailed second factor, and self-service password reset over HTTP, with a gRPC health endpoint.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
