// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release identifier stamped into builds. Overridden at build
// time via -ldflags "-X github.com/enjoyfamily583-dotcom/newredirect/cmd.Version=...".
var Version = "0.3.0-dev"

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("newredirect %s\n", Version)
		},
	}

	return versionCmd
}
