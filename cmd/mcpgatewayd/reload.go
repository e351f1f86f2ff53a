package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "signal a running gateway to reload its capability files",
		RunE:  runReload,
	}
}

func runReload(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfigOrWrap()
	if err != nil {
		return err
	}

	pid, err := readPIDFile(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("reading pid file: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signaling process %d: %w", pid, err)
	}
	fmt.Printf("sent SIGHUP to pid %d\n", pid)
	return nil
}

func readPIDFile(dataDir string) (int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
