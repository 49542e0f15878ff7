package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	enroll := &cobra.Command{
		Use:   "enroll [transcript]",
		Short: "Enroll a passphrase (at least 10 words)",
		Long:  "Enroll the transcript of a spoken passphrase. Re-enrolling replaces the old phrase and ends any session.",
		Run:   runEnroll,
	}

	auth := &cobra.Command{
		Use:   "auth [transcript]",
		Short: "Authenticate with the enrolled passphrase",
		Run:   runAuth,
	}

	logout := &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Run:   runLogout,
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show enrollment and session state",
		Run:   runStatus,
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Remove the enrolled passphrase, session and failed attempts",
		Run:   runReset,
	}
	reset.Flags().Bool("yes", false, "Confirm the reset")

	RootCmd.AddCommand(enroll, auth, logout, status, reset)
}

func transcriptArg(args []string) string {
	t := strings.TrimSpace(readContent(args))
	if t == "" {
		exitErr("transcript", fmt.Errorf("transcript is required (positional arg or stdin)"))
	}
	return t
}

func runEnroll(cmd *cobra.Command, args []string) {
	user := requireUser()
	transcript := transcriptArg(args)

	v := openVault(cmd.Context())
	defer v.Close()

	res, err := v.Enroll(cmd.Context(), user, transcript)
	if err != nil {
		exitErr("enroll", err)
	}
	printResult(cmd, res)
	if !res.Success {
		exit(2)
	}
}

func runAuth(cmd *cobra.Command, args []string) {
	user := requireUser()
	transcript := transcriptArg(args)

	v := openVault(cmd.Context())
	defer v.Close()

	res, err := v.Authenticate(cmd.Context(), user, transcript)
	if err != nil {
		exitErr("auth", err)
	}
	printResult(cmd, res)
	if !res.Authenticated {
		exit(2)
	}
}

func runLogout(cmd *cobra.Command, args []string) {
	user := requireUser()

	v := openVault(cmd.Context())
	defer v.Close()

	if err := v.Logout(cmd.Context(), user); err != nil {
		exitErr("logout", err)
	}
	printResult(cmd, ack{OK: true, UserID: user})
}

func runStatus(cmd *cobra.Command, args []string) {
	user := requireUser()

	v := openVault(cmd.Context())
	defer v.Close()

	st, err := v.Guard().Status(cmd.Context(), user)
	if err != nil {
		exitErr("status", err)
	}
	printResult(cmd, st)
}

func runReset(cmd *cobra.Command, args []string) {
	user := requireUser()
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		exitErr("reset", fmt.Errorf("pass --yes to remove the passphrase for %q", user))
	}

	v := openVault(cmd.Context())
	defer v.Close()

	if err := v.Guard().Reset(cmd.Context(), user); err != nil {
		exitErr("reset", err)
	}
	printResult(cmd, ack{OK: true, UserID: user})
}
