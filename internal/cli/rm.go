package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Long:  "Tombstone a memory in the index. The log entry is kept.",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}
	addPassphraseFlag(cmd)

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	user := requireUser()
	id := args[0]

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	if err := v.Delete(cmd.Context(), user, id); err != nil {
		exitErr("rm", err)
	}
	printResult(cmd, ack{OK: true, UserID: user, ID: id})
}
