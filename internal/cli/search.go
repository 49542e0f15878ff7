package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memvault/internal/model"
	"github.com/rcliao/memvault/internal/vault"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by keyword",
		Long:  "Rank the user's memories by word overlap with the query. An empty query lists everything visible.",
		Run:   runSearch,
	}
	cmd.Flags().StringP("category", "C", "", "Only this category")
	cmd.Flags().StringP("tags", "t", "", "Require all of these tags (comma-separated)")
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	addPassphraseFlag(cmd)

	many := &cobra.Command{
		Use:   "search-many [query]",
		Short: "Search several users' memories at once",
		Long:  "Search the --targets users with the acting user's visibility. Outside the self scope ULTRA_SECRET is never searched.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearchMany,
	}
	many.Flags().String("targets", "", "Comma-separated user ids (required unless --scope self)")
	many.Flags().String("scope", "self", "Search scope: self, or any wider grouping such as team or dept")
	many.Flags().Int("per-target", 5, "Max results per target")
	many.Flags().IntP("limit", "l", 20, "Max results overall")
	addPassphraseFlag(many)

	RootCmd.AddCommand(cmd, many)
}

func runSearch(cmd *cobra.Command, args []string) {
	user := requireUser()
	catStr, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")

	p := vault.SearchParams{
		UserID: user,
		Query:  strings.Join(args, " "),
		Tags:   splitTags(tagsStr),
		Limit:  limit,
	}
	if catStr != "" {
		c, err := model.ParseCategory(catStr)
		if err != nil {
			exitErr("search", err)
		}
		p.Category = &c
	}

	v := openVault(cmd.Context())
	defer v.Close()
	p.Authenticated = unlock(cmd.Context(), v, user)

	results, err := v.Search(cmd.Context(), p)
	if err != nil {
		exitErr("search", err)
	}
	printResult(cmd, results)
}

func runSearchMany(cmd *cobra.Command, args []string) {
	user := requireUser()
	targets, _ := cmd.Flags().GetString("targets")
	scope, _ := cmd.Flags().GetString("scope")
	perTarget, _ := cmd.Flags().GetInt("per-target")
	limit, _ := cmd.Flags().GetInt("limit")

	v := openVault(cmd.Context())
	defer v.Close()
	unlock(cmd.Context(), v, user)

	hits, err := v.SearchMany(cmd.Context(), vault.ManyParams{
		Actor:          user,
		Targets:        splitTags(targets),
		Query:          strings.Join(args, " "),
		Scope:          scope,
		PerTargetLimit: perTarget,
		MaxTotal:       limit,
	})
	if err != nil {
		exitErr("search-many", err)
	}
	printResult(cmd, hits)
}
