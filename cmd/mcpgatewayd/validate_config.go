package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/registry"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "load and validate the configuration file without starting the gateway",
		RunE:  runValidateConfig,
	}
}

func runValidateConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfigOrWrap()
	if err != nil {
		return err
	}

	if cfg.CapabilitiesDir != "" {
		if _, err := registry.LoadDir(zap.NewNop(), cfg.CapabilitiesDir, registry.FirstWins{}); err != nil {
			return &configError{fmt.Errorf("capabilities directory %q: %w", cfg.CapabilitiesDir, err)}
		}
	}

	fmt.Printf("configuration OK: listen=%s servers=%d capabilities_dir=%s\n",
		cfg.Listen, len(cfg.Servers), cfg.CapabilitiesDir)
	return nil
}
