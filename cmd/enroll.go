package cmd

import (
	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage identity enrollment",
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
