// Command qjazzctl is the admin CLI for qjazzd: one subcommand per
// AdminPlane RPC except ListPlugins and GetProjectInfo, plus a
// data-plane ping (spec 4.5/4.8), dialing the daemon over gRPC with the
// retrying client in pkg/client and rendering results with pterm,
// in the CLI-feedback style teranos-QNTX's ingest tooling uses
// (pterm.Success/Error/Info plus tables for list-shaped output).
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/3liz/qjazz/internal/rpcapi"
	qjazzclient "github.com/3liz/qjazz/pkg/client"
)

func main() {
	var addr string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "qjazzctl",
		Short: "admin client for qjazzd",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:23456", "qjazzd admin gRPC address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-call timeout")

	dial := func() (*qjazzclient.Client, func(), error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := qjazzclient.NewGRPCClient(ctx, qjazzclient.ClientConfig{
			Address:      addr,
			Timeout:      timeout,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		})
		if err != nil {
			return nil, nil, err
		}
		c := qjazzclient.New(conn)
		return c, func() { _ = c.Close() }, nil
	}

	withCtx := func(fn func(context.Context, *qjazzclient.Client) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, _ []string) error {
			c, closeFn, err := dial()
			if err != nil {
				return fmt.Errorf("dialing %s: %w", addr, err)
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return fn(ctx, c)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "probe the dispatcher's liveness against an idle child",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.Ping(ctx, []byte("qjazzctl"))
			if err != nil {
				return err
			}
			pterm.Success.Printfln("pong: %s", string(reply.Echo))
			return nil
		}),
	})

	root.AddCommand(checkoutCmd(withCtx))
	root.AddCommand(dropCmd(withCtx))

	root.AddCommand(&cobra.Command{
		Use:   "list-cache",
		Short: "list every child's cache contents",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.ListCache(ctx)
			if err != nil {
				return err
			}
			rows := [][]string{{"Child", "URI", "Status", "Pinned", "Hits", "Last Modified"}}
			for _, ch := range reply.Children {
				if ch.Error != "" {
					rows = append(rows, []string{fmt.Sprint(ch.ChildID), "-", "ERROR: " + ch.Error, "-", "-", "-"})
					continue
				}
				for _, e := range ch.Entries {
					rows = append(rows, []string{
						fmt.Sprint(ch.ChildID), e.URI, e.Status, fmt.Sprint(e.Pinned), fmt.Sprint(e.Hits), e.LastModified,
					})
				}
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "evict every child's entire cache",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			if _, err := c.ClearCache(ctx); err != nil {
				return err
			}
			pterm.Success.Println("cache cleared on every child")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "update-cache",
		Short: "re-checkout every pinned project on every child",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.UpdateCache(ctx)
			if err != nil {
				return err
			}
			return renderChildInfoList(reply)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "catalog [location]",
		Short: "list the projects discoverable under a search-path location",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := ""
			if len(args) == 1 {
				location = args[0]
			}
			return withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
				reply, err := c.Catalog(ctx, location)
				if err != nil {
					return err
				}
				rows := [][]string{{"Child", "URI", "Display Name"}}
				for _, ch := range reply.Children {
					if ch.Error != "" {
						rows = append(rows, []string{fmt.Sprint(ch.ChildID), "-", "ERROR: " + ch.Error})
						continue
					}
					for _, it := range ch.Items {
						rows = append(rows, []string{fmt.Sprint(ch.ChildID), it.URI, it.DisplayName})
					}
				}
				return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "print the dispatcher pool's current statistics",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.Stats(ctx)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Active", fmt.Sprint(reply.ActiveWorkers)},
				{"Idle", fmt.Sprint(reply.IdleWorkers)},
				{"Dead", fmt.Sprint(reply.DeadWorkers)},
				{"Waiting queue", fmt.Sprint(reply.WaitingQueue)},
				{"Failure pressure", fmt.Sprintf("%.3f", reply.FailurePressure)},
				{"Request pressure", fmt.Sprintf("%.3f", reply.RequestPressure)},
				{"Uptime (s)", fmt.Sprintf("%.0f", reply.UptimeSeconds)},
			}
			return pterm.DefaultTable.WithData(rows).Render()
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "re-validate the live configuration (no child is replaced)",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			if _, err := c.Reload(ctx); err != nil {
				return err
			}
			pterm.Success.Println("configuration re-validated")
			return nil
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "get-config",
		Short: "dump the live configuration as YAML",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.GetConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Println(reply.YAML)
			return nil
		}),
	})

	root.AddCommand(setConfigCmd(withCtx))

	root.AddCommand(&cobra.Command{
		Use:   "get-env",
		Short: "print the allow-listed environment variables qjazzd exposes",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.GetEnv(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(reply.Vars))
			for k := range reply.Vars {
				names = append(names, k)
			}
			sort.Strings(names)
			rows := [][]string{{"Name", "Value"}}
			for _, k := range names {
				rows = append(rows, []string{k, reply.Vars[k]})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "set-serving-status [true|false]",
		Short: "toggle the gRPC health status by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serving := args[0] == "true"
			return withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
				if _, err := c.SetServerServingStatus(ctx, serving); err != nil {
					return err
				}
				pterm.Success.Printfln("serving status set to %v", serving)
				return nil
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "dump-cache",
		Short: "list every child's cache contents alongside RSS/CPU sampling",
		RunE: withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
			reply, err := c.DumpCache(ctx)
			if err != nil {
				return err
			}
			rows := [][]string{{"Child", "PID", "Entries", "RSS (MB)", "CPU %"}}
			for _, ch := range reply.Children {
				if ch.Error != "" {
					rows = append(rows, []string{fmt.Sprint(ch.ChildID), "-", "-", "-", "ERROR: " + ch.Error})
					continue
				}
				rows = append(rows, []string{
					fmt.Sprint(ch.ChildID),
					fmt.Sprint(ch.PID),
					fmt.Sprint(len(ch.Entries)),
					fmt.Sprintf("%.1f", float64(ch.RSSBytes)/(1024*1024)),
					fmt.Sprintf("%.1f", ch.CPUPercent),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		}),
	})

	if err := root.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// renderChildInfoList prints the per-child outcome of a broadcast
// checkout/drop/update-cache call: the project's cache.Info on
// success, or the per-child error string on failure.
func renderChildInfoList(reply *rpcapi.ChildInfoList) error {
	rows := [][]string{{"Child", "URI", "Status", "Pinned", "Error"}}
	for _, r := range reply.Results {
		errStr := r.Error
		rows = append(rows, []string{
			fmt.Sprint(r.ChildID), r.Info.URI, r.Info.Status, fmt.Sprint(r.Info.Pinned), errStr,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

type dialFunc func(func(context.Context, *qjazzclient.Client) error) func(*cobra.Command, []string) error

func checkoutCmd(withCtx dialFunc) *cobra.Command {
	var pull, pin bool
	cmd := &cobra.Command{
		Use:   "checkout [uri]",
		Short: "broadcast a cache checkout to every child",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
				reply, err := c.CheckoutProject(ctx, args[0], pull, pin)
				if err != nil {
					return err
				}
				return renderChildInfoList(reply)
			})(cmd, args)
		},
	}
	cmd.Flags().BoolVar(&pull, "pull", false, "apply the pull-state transition (load if new, reload if outdated, drop if removed); without it, only report the state")
	cmd.Flags().BoolVar(&pin, "pin", false, "pin the project, exempting it from LRU eviction")
	return cmd
}

func dropCmd(withCtx dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "drop [uri]",
		Short: "broadcast a cache eviction to every child",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
				reply, err := c.DropProject(ctx, args[0])
				if err != nil {
					return err
				}
				return renderChildInfoList(reply)
			})(cmd, args)
		},
	}
}

func setConfigCmd(withCtx dialFunc) *cobra.Command {
	var numProcesses int32
	var maxWaiting int32
	var logLevel string
	hasFlag := func(cmd *cobra.Command, name string) bool { return cmd.Flags().Changed(name) }

	cmd := &cobra.Command{
		Use:   "set-config",
		Short: "patch the live configuration (hot fields apply immediately, cold fields trigger a rolling reload)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCtx(func(ctx context.Context, c *qjazzclient.Client) error {
				req := &rpcapi.SetConfigRequest{}
				if hasFlag(cmd, "num-processes") {
					req.WorkerNumProcesses = &numProcesses
				}
				if hasFlag(cmd, "max-waiting-requests") {
					req.WorkerMaxWaitingRequests = &maxWaiting
				}
				if hasFlag(cmd, "log-level") {
					req.LogLevel = &logLevel
				}
				reply, err := c.SetConfig(ctx, req)
				if err != nil {
					return err
				}
				pterm.Info.Printfln("hot fields applied: %v", reply.HotFields)
				pterm.Info.Printfln("cold fields queued: %v", reply.ColdFields)
				if reply.Reloaded {
					pterm.Success.Println("rolling reload triggered for cold fields")
				}
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().Int32Var(&numProcesses, "num-processes", 0, "worker.num_processes (cold)")
	cmd.Flags().Int32Var(&maxWaiting, "max-waiting-requests", 0, "worker.max_waiting_requests (hot)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log.level (hot)")
	return cmd
}
