package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"

	"github.com/joomcode/redisguard/redis"
	"github.com/joomcode/redisguard/redisclient"
	"github.com/joomcode/redisguard/rediscluster"
	"github.com/joomcode/redisguard/rediscluster/redisclusterutil"
	"github.com/joomcode/redisguard/redispool"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that main node answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				res, err := c.Command(ctx, priority(cmd), "PING")
				if err != nil {
					return err
				}
				writeReply(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	doCmd = &cobra.Command{
		Use:   "do [command] [args...]",
		Short: "Sends arbitrary command",
		Long: `Sends arbitrary command. Error reply is printed, not returned.
Commands which change connection state (SELECT, AUTH, MULTI, ...) are rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				cargs := make([]interface{}, len(args)-1)
				for i, a := range args[1:] {
					cargs[i] = a
				}
				res, err := c.Command(ctx, priority(cmd), args[0], cargs...)
				if err != nil {
					if !errorx.IsOfType(err, redis.ErrResult) {
						return err
					}
					res = err
				}
				writeReply(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				v, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if v == nil {
					writeReply(cmd.OutOrStdout(), nil)
				} else {
					writeReply(cmd.OutOrStdout(), v)
				}
				return nil
			})
		},
	}

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets value of a key",
		Long: `Sets value of a key, optionally with expiry.
With --near-cache write is buffered and persisted before exit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := cmd.Flags().GetInt("ttl")
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				if err := c.Set(ctx, args[0], []byte(args[1]), ttl); err != nil {
					return err
				}
				if err := c.Join(ctx); err != nil {
					return err
				}
				writeReply(cmd.OutOrStdout(), "OK")
				return nil
			})
		},
	}

	leaderCmd = &cobra.Command{
		Use:   "leader",
		Short: "Prints address of main node",
		Long: `Prints address of main node: configured server in standalone mode,
current master in sentinel mode, and node of slot 0 in cluster mode.
With key argument in cluster mode prints node serving the key.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				addr := c.Strategy().Addr()
				if cl, ok := c.Strategy().(*rediscluster.Cluster); ok && len(args) == 1 {
					addr = cl.NodeForKey(args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.Mode(), addr)
				return nil
			})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Pings main node and prints its pool counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *redisclient.Client) error {
				if _, err := c.Command(ctx, priority(cmd), "PING"); err != nil {
					return err
				}
				pool, err := c.Strategy().Pool(ctx)
				if err != nil {
					return err
				}
				st := pool.Stats()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "pool %s\n", pool.Name())
				fmt.Fprintf(w, "active %d idle %d waiting %d\n", st.Active, st.Idle, st.Waiting)
				fmt.Fprintf(w, "created %d destroyed %d borrowed %d returned %d invalidated %d timeouts %d\n",
					st.Created, st.Destroyed, st.Borrowed, st.Returned, st.Invalidated, st.Timeouts)
				if b := c.Operation().Breaker(); b != nil {
					fmt.Fprintf(w, "breaker %s\n", b.State())
				}
				return nil
			})
		},
	}

	slotCmd = &cobra.Command{
		Use:   "slot [key...]",
		Short: "Prints cluster slot of keys",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, key := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%d %q\n", redisclusterutil.Slot(key), key)
			}
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{pingCmd, doCmd, statsCmd} {
		c.Flags().Bool("low", false, "borrow connection with low priority")
	}
	setCmd.Flags().Int("ttl", 0, "expiry in seconds, 0 for none")
}

func priority(cmd *cobra.Command) redispool.Priority {
	if low, _ := cmd.Flags().GetBool("low"); low {
		return redispool.PriorityLow
	}
	return redispool.PriorityNormal
}

// writeReply prints reply in redis-cli manner.
func writeReply(w io.Writer, v interface{}) {
	writeIndented(w, v, "")
}

func writeIndented(w io.Writer, v interface{}, indent string) {
	switch r := v.(type) {
	case nil:
		fmt.Fprintln(w, "(nil)")
	case string:
		fmt.Fprintln(w, r)
	case []byte:
		fmt.Fprintln(w, strconv.Quote(string(r)))
	case int64:
		fmt.Fprintf(w, "(integer) %d\n", r)
	case error:
		fmt.Fprintf(w, "(error) %s\n", redisMessage(r))
	case []interface{}:
		if len(r) == 0 {
			fmt.Fprintln(w, "(empty array)")
			return
		}
		width := len(strconv.Itoa(len(r)))
		pad := strings.Repeat(" ", width+2)
		for i, item := range r {
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			fmt.Fprintf(w, "%*d) ", width, i+1)
			writeIndented(w, item, indent+pad)
		}
	default:
		fmt.Fprintf(w, "%v\n", r)
	}
}

// redisMessage returns error text as server sent it, if it is an error reply.
func redisMessage(err error) string {
	if e := errorx.Cast(err); e != nil && e.IsOfType(redis.ErrResult) {
		return e.Message()
	}
	return err.Error()
}
