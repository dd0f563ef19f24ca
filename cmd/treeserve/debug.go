package main

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kluzzebass/treeserve/internal/config"
	"github.com/kluzzebass/treeserve/internal/dsl"
	"github.com/kluzzebass/treeserve/internal/jsoncodec"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/snapshot"
	"github.com/kluzzebass/treeserve/internal/tree"
	"github.com/kluzzebass/treeserve/internal/variant"
	"github.com/kluzzebass/treeserve/internal/vm"
)

func newConfigValidateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "config-validate",
		Short: "Load and validate the configuration document, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(cmd), logger)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d listener(s), %d view(s)\n", len(mustListen(cfg)), len(cfg.ViewNames()))
			return nil
		},
	}
}

func mustListen(cfg *config.Config) []config.ListenSpec {
	specs, err := cfg.Listen()
	if err != nil {
		return nil
	}
	return specs
}

func newTreeGetCmd(logger *slog.Logger) *cobra.Command {
	var sourceDir string
	cmd := &cobra.Command{
		Use:   "tree-get <path>",
		Short: "Restore a snapshot from --snapshot-dir and print the subtree at <path>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceDir == "" {
				return fmt.Errorf("tree-get: --snapshot-dir is required")
			}
			t := tree.New()
			if err := snapshot.Load(t, sourceDir); err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}
			p, v, err := t.Get(args[0], 0)
			if err != nil {
				return err
			}
			defer v.Clear(p)
			return printJSON(p, &v)
		},
	}
	cmd.Flags().StringVar(&sourceDir, "snapshot-dir", "", "directory holding a treeserve snapshot")
	return cmd
}

func newViewExecCmd(logger *slog.Logger) *cobra.Command {
	var sourceDir, query string
	cmd := &cobra.Command{
		Use:   "view-exec",
		Short: "Restore a snapshot from --snapshot-dir and run an ad hoc query against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceDir == "" || query == "" {
				return fmt.Errorf("view-exec: --snapshot-dir and --query are both required")
			}
			t := tree.New()
			if err := snapshot.Load(t, sourceDir); err != nil {
				return fmt.Errorf("load snapshot: %w", err)
			}

			exe := dsl.NewExecutable()
			ip, err := exe.Compile(query)
			if err != nil {
				return fmt.Errorf("compile: %w", err)
			}

			destPool := pool.New()
			t.RLock()
			m := vm.New(exe, t.Pool(), t.Root())
			frame, execErr := m.Exec(ip)
			var out variant.V
			if execErr == nil {
				out = reifyFrame(destPool, frame)
				frame.Clear()
			}
			m.Close()
			t.RUnlock()
			if execErr != nil {
				return fmt.Errorf("exec: %w", execErr)
			}
			defer out.Clear(destPool)
			return printJSON(destPool, &out)
		},
	}
	cmd.Flags().StringVar(&sourceDir, "snapshot-dir", "", "directory holding a treeserve snapshot")
	cmd.Flags().StringVar(&query, "query", "", "query expression to compile and run")
	return cmd
}

func reifyFrame(destPool *pool.Pool, frame *vm.StackFrame) variant.V {
	switch frame.Len() {
	case 0:
		return variant.NewNull()
	case 1:
		return frame.CloneInto(destPool, 0)
	default:
		arr := variant.NewArray(frame.Len())
		for i := 0; i < frame.Len(); i++ {
			arr.AppendElem(frame.CloneInto(destPool, i))
		}
		return arr
	}
}

func newSnapshotCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect an on-disk snapshot",
	}
	cmd.AddCommand(newSnapshotInspectCmd())
	return cmd
}

func newSnapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Load a snapshot and print its root as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := tree.New()
			if err := snapshot.Load(t, args[0]); err != nil {
				return err
			}
			var err error
			t.WithRLock(func(p *pool.Pool, root *variant.V) {
				err = printJSON(p, root)
			})
			return err
		},
	}
}

func printJSON(p *pool.Pool, v *variant.V) error {
	var buf bytes.Buffer
	if err := jsoncodec.Encode(&buf, p, v); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
