package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for bean",
	Long:  `Generate documentation for bean`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
