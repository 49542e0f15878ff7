package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}
	addPassphraseFlag(cmd)

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	user := requireUser()

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	e, err := v.Get(cmd.Context(), user, args[0])
	if err != nil {
		exitErr("get", err)
	}
	printResult(cmd, e)
}
