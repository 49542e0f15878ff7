// Package cli implements the memvault CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memvault/internal/config"
	"github.com/rcliao/memvault/internal/guard"
	"github.com/rcliao/memvault/internal/logging"
	"github.com/rcliao/memvault/internal/vault"
)

var (
	configPath string
	userID     string
	passphrase string
	formatFlag string
)

// opened is the vault exit closes before the process ends.
var opened *vault.Vault

// osExit is swapped out in tests.
var osExit = os.Exit

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memvault",
	Short: "Tiered, encrypted personal memory",
	Long: "Store memories in five sensitivity tiers. SECRET and ULTRA_SECRET are encrypted at rest\n" +
		"and only readable after authenticating with a spoken passphrase.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.memvault/config.yaml or ./config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("MEMVAULT_USER"), "User id (default: $MEMVAULT_USER)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// addPassphraseFlag lets a read command authenticate in-process first.
// Without a shared Redis cache a session does not outlive the command.
func addPassphraseFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase transcript to unlock SECRET and ULTRA_SECRET for this command")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func openVault(ctx context.Context) *vault.Vault {
	cfg := loadConfig()
	log := logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})
	v, err := vault.Open(ctx, vault.Options{Config: cfg, Logger: log})
	if err != nil {
		exitErr("open vault", err)
	}
	opened = v
	return v
}

func requireUser() string {
	if userID == "" {
		exitErr("user", fmt.Errorf("--user or $MEMVAULT_USER is required"))
	}
	return userID
}

// unlock authenticates with --passphrase when given and reports whether
// the secret tiers are readable.
func unlock(ctx context.Context, v *vault.Vault, user string) bool {
	if passphrase == "" {
		return v.IsVerified(ctx, user)
	}
	res, err := v.Authenticate(ctx, user, passphrase)
	if err != nil {
		exitErr("authenticate", err)
	}
	if !res.Authenticated {
		exitErr("authenticate", authError(res))
	}
	return true
}

func authError(res guard.AuthResult) error {
	msg := res.Message
	if res.Hint != "" {
		msg += " (hint: " + res.Hint + ")"
	}
	return fmt.Errorf("%s: %s", res.Outcome, msg)
}

// readContent takes the positional args, or stdin when piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ack is the output of commands that have nothing else to report.
type ack struct {
	OK      bool   `json:"ok"`
	UserID  string `json:"user_id,omitempty"`
	ID      string `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
	DataDir string `json:"data_dir,omitempty"`
}

// printResult writes v as indented JSON, or as YAML-style text with
// --format text.
func printResult(cmd *cobra.Command, v any) {
	out := cmd.OutOrStdout()
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	switch formatFlag {
	case "", "json":
		fmt.Fprintln(out, string(b))
	case "text":
		if err := writeText(out, b); err != nil {
			exitErr("encode output", err)
		}
	default:
		exitErr("format", fmt.Errorf("unknown format %q (want json or text)", formatFlag))
	}
}

// writeText re-renders JSON as block-style YAML, keeping field order.
func writeText(w io.Writer, jsonDoc []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(jsonDoc, &doc); err != nil {
		return err
	}
	unstyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

func unstyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		unstyle(c)
	}
}

// exit closes the open vault, if any, and ends the process.
func exit(code int) {
	if opened != nil {
		opened.Close()
		opened = nil
	}
	osExit(code)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	exit(1)
}
