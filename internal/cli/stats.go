package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-category counts for a user",
		Run:   runStats,
	}
	addPassphraseFlag(cmd)

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	user := requireUser()

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	stats, err := v.Stats(cmd.Context(), user)
	if err != nil {
		exitErr("stats", err)
	}
	printResult(cmd, stats)
}
