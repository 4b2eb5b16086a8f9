package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	upiswitch "github.com/vitwit/upiswitch"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "upiswitch %s\n", cmd.Root().Version)

		info := upiswitch.GetVersion()
		keys := maps.Keys(info)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, info[k])
		}
	},
}
