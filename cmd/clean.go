package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/tokysnatcher/internal/output"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [FOLDER]",
		Short: "Remove partial chapter files left behind by a killed run",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			target := folder
			if len(args) > 0 {
				target = args[0]
			}
			target, err := utils.ExpandPath(target)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			removed, err := utils.CleanPartials(target)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning %s: %v", target, err))
				os.Exit(1)
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial files from %s", removed, target))
		},
	}
}
