package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vcon-dev/vcon-server-sub001/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "vconserver",
		Short:   "vCon conversation-record processing pipeline",
		Long:    "vconserver moves conversation records through configurable chains of processing links, persisting them to pluggable storage backends.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.vcon-server/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate configuration and summarize what would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			doc, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Info("config ok", "path", cfgPath,
				"links", len(doc.Links), "storages", len(doc.Storages),
				"chains", len(doc.Chains), "adapters", len(doc.Adapters),
				"followers", len(doc.Settings.Followers))
			for name, chain := range doc.Chains {
				logger.Info("chain", "name", name, "enabled", chain.Enabled,
					"links", chain.Links, "ingress", chain.IngressLists,
					"egress", chain.EgressList, "storages", chain.Storages)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Reconstruct the configuration document from the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := exportFromStore(resolveConfigPath())
			if err != nil {
				return err
			}
			if out != "" {
				return config.Save(out, doc)
			}
			data, err := yaml.Marshal(doc)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the exported document to a file instead of stdout")
	return cmd
}
