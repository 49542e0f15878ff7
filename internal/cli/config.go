package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/memvault/internal/config"
)

func init() {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with fresh secrets",
		Run:   runConfigInit,
	}
	initCmd.Flags().String("data-dir", "", "Data directory (default: ~/.memvault)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	cfgCmd.AddCommand(initCmd)
	RootCmd.AddCommand(cfgCmd)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		exitErr("generate secret", err)
	}
	return hex.EncodeToString(b)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	force, _ := cmd.Flags().GetBool("force")

	path := configPath
	if path == "" {
		path = filepath.Join(config.DefaultDir(), "config.yaml")
	}
	if _, err := os.Stat(path); err == nil && !force {
		exitErr("config init", fmt.Errorf("%s already exists (use --force to overwrite)", path))
	}

	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.MasterSecret = randomSecret()
	cfg.PassphraseSalt = randomSecret()

	if err := config.Save(cfg, path); err != nil {
		exitErr("config init", err)
	}
	printResult(cmd, ack{OK: true, Path: path, DataDir: cfg.DataDir})
}
