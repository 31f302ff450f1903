package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joomcode/redisguard/redisclient"
	"github.com/joomcode/redisguard/redisconfig"
	"github.com/joomcode/redisguard/redismetrics"
)

// Version is printed by version command.
const Version = "0.3.0"

var (
	conf = redisconfig.NewViper(redisconfig.DefaultEnvPrefix)

	// RootCmd is the base command when called without any subcommands.
	RootCmd = &cobra.Command{
		Use:   "redisguard",
		Short: "resilient redis client",
		Long: fmt.Sprintf(`redisguard (v%s)

Sends commands to redis through pooled connections with circuit breaker,
retries and timeouts, following sentinel failovers and cluster redirects.`, Version),
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of redisguard",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "redisguard v%s\n", Version)
		},
	}
)

// flagKeys maps flags to configuration keys.
var flagKeys = map[string]string{
	"mode":             "mode",
	"host":             "host",
	"port":             "port",
	"username":         "username",
	"password":         "password",
	"tls":              "use_tls",
	"db":               "database_index",
	"socket-timeout":   "socket_timeout_ms",
	"sentinel-master":  "sentinel.master_name",
	"sentinel-nodes":   "sentinel.nodes",
	"cluster-seeds":    "cluster.seeds",
	"follow-redirects": "cluster.follow_redirects",
	"near-cache":       "near_cache.enabled",
}

func init() {
	cobra.OnInitialize(initConfig)

	d := redisconfig.Default()
	f := RootCmd.PersistentFlags()
	f.String("config", "", "configuration file (yaml, json, toml, ...)")
	f.Duration("timeout", 10*time.Second, "overall timeout of a command")
	f.Bool("verbose", false, "log client events")
	f.String("mode", d.Mode, "connection mode (standalone, sentinel, cluster)")
	f.String("host", d.Host, "standalone server host")
	f.Int("port", d.Port, "standalone server port")
	f.String("username", "", "ACL user name")
	f.String("password", "", "password")
	f.Bool("tls", false, "connect with TLS")
	f.Int("db", d.DatabaseIndex, "database index to select")
	f.Int("socket-timeout", d.SocketTimeoutMs, "socket timeout in milliseconds")
	f.String("sentinel-master", "", "name of master monitored by sentinels")
	f.StringSlice("sentinel-nodes", nil, "sentinel addresses host:port")
	f.StringSlice("cluster-seeds", nil, "cluster seed addresses host:port")
	f.Bool("follow-redirects", d.Cluster.FollowRedirects, "follow MOVED and ASK redirects")
	f.Bool("near-cache", false, "buffer writes of set command in near-cache")

	for name, key := range flagKeys {
		if err := conf.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(pingCmd, doCmd, getCmd, setCmd, leaderCmd, statsCmd, slotCmd)
}

// initConfig loads .env files into environment before flags and variables are read.
func initConfig() {
	if err := redisconfig.LoadDotenv(".env", ".env.local"); err != nil {
		cobra.CheckErr(err)
	}
}

func loadConfig(cmd *cobra.Command) (redisconfig.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return redisconfig.Config{}, err
	}
	if path != "" {
		if err := redisconfig.ReadFile(conf, path); err != nil {
			return redisconfig.Config{}, err
		}
	}
	return redisconfig.Load(conf)
}

// withClient runs f with client connected according to configuration, and closes it afterwards.
func withClient(cmd *cobra.Command, f func(ctx context.Context, c *redisclient.Client) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	opts := []redisclient.Option{redisclient.WithMetrics(redismetrics.Noop())}
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		opts = append(opts, redisclient.WithLoggers(redisclient.NoopLoggers()))
	}
	c, err := redisclient.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	err = f(ctx, c)
	if cerr := c.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
