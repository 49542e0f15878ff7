package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/vault"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("category", "C", "", "GENERAL, CHRONOLOGICAL, CONFIDENTIAL, SECRET or ULTRA_SECRET (default: GENERAL)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("at", "", "Timestamp, RFC 3339 (default: now)")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	user := requireUser()
	catStr, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	at, _ := cmd.Flags().GetString("at")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	p := vault.StoreParams{UserID: user, Content: content, Tags: splitTags(tagsStr)}
	if catStr != "" {
		c, err := model.ParseCategory(catStr)
		if err != nil {
			exitErr("put", err)
		}
		p.Category = &c
	}
	if at != "" {
		ts, err := time.Parse(time.RFC3339, at)
		if err != nil {
			exitErr("put", fmt.Errorf("invalid --at: %w", err))
		}
		p.Timestamp = ts
	}

	v := openVault(cmd.Context())
	defer v.Close()

	res, err := v.Store(cmd.Context(), p)
	if err != nil {
		exitErr("put", err)
	}
	printResult(cmd, res)
}
