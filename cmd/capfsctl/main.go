// Command capfsctl is the CAPFS administrative tool: initializing a
// manager root and its data servers (mkfs), offline consistency checking
// of a data server's chunk store (fsck), and simple read-only inspection
// of a running manager (stat, servers). Its command tree follows the
// teacher's cobra registration idiom (backend/raid3/commands.go).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnv104/capfs-sub000/internal/layout"
	"github.com/mnv104/capfs-sub000/internal/wire"
	"github.com/mnv104/capfs-sub000/pkg/casstore"
)

var (
	managerAddr string
	rpcTimeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "capfsctl",
	Short: "Administer a CAPFS deployment",
}

var mkfsCmd = &cobra.Command{
	Use:   "mkfs-manager DIR",
	Short: "Initialize a manager metadata root and write its data-server list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, _ := cmd.Flags().GetStringSlice("data-server")
		return mkfsManager(args[0], servers)
	},
}

var mkfsIodCmd = &cobra.Command{
	Use:   "mkfs-iod DIR",
	Short: "Initialize a data server's chunk store root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return casstore.Init(args[0])
	},
}

var fsckCmd = &cobra.Command{
	Use:   "fsck DIR",
	Short: "Report (but do not remove) chunks a REMOVEALL would delete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFsck(args[0])
	},
}

var statCmd = &cobra.Command{
	Use:   "stat PATH",
	Short: "Stat a file through a running manager",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStat(args[0])
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List the data servers a running manager knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServers()
	},
}

func init() {
	mkfsCmd.Flags().StringSlice("data-server", nil, "data server address (repeatable)")
	rootCmd.PersistentFlags().StringVar(&managerAddr, "manager", "127.0.0.1:7788", "manager RPC address")
	rootCmd.PersistentFlags().DurationVar(&rpcTimeout, "timeout", 10*time.Second, "RPC timeout")
	rootCmd.AddCommand(mkfsCmd, mkfsIodCmd, fsckCmd, statCmd, serversCmd)
}

func mkfsManager(dir string, servers []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if !layout.HasSentinel(dir, layout.CapfsdirName) {
		if err := layout.WriteSentinel(dir, layout.CapfsdirName); err != nil {
			return err
		}
	}
	return layout.WriteIodtab(dir, servers)
}

// runFsck reports (without deleting) what a REMOVEALL traversal of dir
// would have removed: an offline consistency check, spec.md §6's
// "exit codes of operational tools" contract (0 on a clean report, 1 if
// anything would have been removed or any directory lacked a sentinel).
func runFsck(dir string) error {
	store := casstore.Open(dir, 1)
	report, err := store.Fsck(context.Background(), dir)
	if err != nil {
		return err
	}
	for _, d := range report.DirsSkipped {
		fmt.Printf("unmanaged directory (no sentinel): %s\n", d)
	}
	for _, e := range report.Errors {
		fmt.Printf("error: %v\n", e)
	}
	fmt.Printf("would remove %d file(s)\n", report.FilesRemoved)
	if report.FilesRemoved > 0 || len(report.DirsSkipped) > 0 || len(report.Errors) > 0 {
		os.Exit(1)
	}
	return nil
}

func dialManager() (*wire.Conn, error) {
	return wire.Dial(managerAddr, rpcTimeout)
}

func runStat(path string) error {
	conn, err := dialManager()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	var reply wire.StatReply
	if err := conn.Call(ctx, "Manager.Stat", &wire.StatArgs{RelPath: path}, &reply); err != nil {
		return err
	}
	if reply.Status != "" {
		return wire.StatusToErr(reply.Status)
	}
	s := reply.State
	fmt.Printf("size=%d mode=%#o uid=%d gid=%d mtime=%s stripe={base=%d pcount=%d ssize=%d}\n",
		s.Size, s.Mode, s.UID, s.GID, s.Mtime.Format(time.RFC3339),
		s.Striping.Base, s.Striping.PCount, s.Striping.SSize)
	return nil
}

func runServers() error {
	conn, err := dialManager()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	var reply wire.IodinfoReply
	if err := conn.Call(ctx, "Manager.Iodinfo", &wire.IodinfoArgs{}, &reply); err != nil {
		return err
	}
	if reply.Status != "" {
		return wire.StatusToErr(reply.Status)
	}
	for _, s := range reply.Servers {
		fmt.Println(s)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
