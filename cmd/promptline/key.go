package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"promptline/internal/backend"
	"promptline/internal/common/fsutil"
	"promptline/internal/secrets"
)

func newKeyCmd(opts *options) *cobra.Command {
	open := func(cmd *cobra.Command) (*secrets.Store, error) {
		cfg, err := opts.loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dir, err := fsutil.ExpandHome(cfg.LibraryDir)
		if err != nil {
			return nil, err
		}
		return secrets.Open(filepath.Join(dir, ".keyring"))
	}
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage backend API keys in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("key requires a subcommand: set|delete|list")
		},
	}
	set := &cobra.Command{Use: "set <backend> <key>", Short: "Store an API key", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		k, err := backend.ParseKind(args[0])
		if err != nil {
			return err
		}
		s, err := open(cmd)
		if err != nil {
			return err
		}
		return s.SetAPIKey(string(k), args[1])
	}}
	del := &cobra.Command{Use: "delete <backend>", Aliases: []string{"rm"}, Short: "Remove a stored API key", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		return s.DeleteAPIKey(args[0])
	}}
	list := &cobra.Command{Use: "list", Short: "List backends with a stored key", RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd)
		if err != nil {
			return err
		}
		names, err := s.Backends()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
		return nil
	}}
	cmd.AddCommand(set, del, list)
	return cmd
}
