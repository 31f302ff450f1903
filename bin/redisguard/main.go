// Command redisguard is a command line client for redis built on redisclient:
// it connects with the same configuration an application would use, in any of
// standalone, sentinel or cluster modes.
//
// Configuration is read from REDISGUARD_* environment variables, .env and .env.local
// files, optional configuration file (--config), and flags, the latter taking precedence.
package main

import (
	"os"
)

func main() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
