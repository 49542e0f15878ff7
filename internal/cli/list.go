package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the newest memories",
		Run:   runRecent,
	}
	recent.Flags().IntP("limit", "l", 20, "Max results")
	addPassphraseFlag(recent)

	day := &cobra.Command{
		Use:   "day [YYYY-MM-DD]",
		Short: "List memories from one UTC day (default: today)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runDay,
	}
	addPassphraseFlag(day)

	RootCmd.AddCommand(recent, day)
}

func runRecent(cmd *cobra.Command, args []string) {
	user := requireUser()
	limit, _ := cmd.Flags().GetInt("limit")

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	entries, err := v.Recent(cmd.Context(), user, limit)
	if err != nil {
		exitErr("recent", err)
	}
	printResult(cmd, entries)
}

func runDay(cmd *cobra.Command, args []string) {
	user := requireUser()
	day := time.Now().UTC()
	if len(args) > 0 {
		d, err := time.Parse(time.DateOnly, args[0])
		if err != nil {
			exitErr("day", fmt.Errorf("expected YYYY-MM-DD: %w", err))
		}
		day = d
	}

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	entries, err := v.ByDate(cmd.Context(), user, day)
	if err != nil {
		exitErr("day", err)
	}
	printResult(cmd, entries)
}
