package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/client"
)

const usage = `Usage: fsbridgectl [-server URL] [-timeout D] <command> [args]

Commands:
  health                          server and provider status
  list                            mounted file systems
  info <fs>                       one file system
  ls <fs> <path>                  list a directory
  stat <fs> <path>                entry metadata
  cat <fs> <path>                 print a file
  put <fs> <path> [local]         write stdin or a local file
  mkdir [-p] <fs> <path>          create a directory
  touch <fs> <path>               create an empty file
  rm [-r] <fs> <path>             delete an entry
  cp <fs> <source> <target>       copy an entry
  mv <fs> <source> <target>       move an entry
  truncate <fs> <path> <length>   set a file's length
  actions <fs> <path>...          applicable actions
  run <fs> <action> <path>...     execute an action
  watch [-r] <fs> <path>          add a watcher and stream its changes
  unwatch [-r] <fs> <path>        remove a watcher
  events [-fs ID] [pattern]       stream change events
  pending <fs>                    requests waiting for the provider
  abort <fs> <request-id>         abort a request
  unmount <fs>                    ask the provider to unmount
  mount-request                   ask the provider to offer a file system
  configure <fs>                  ask the provider to show settings
  log-level [level]               get or set the server log level
`

func main() {
	opts := client.DefaultOptions()
	flag.StringVar(&opts.BaseURL, "server", envOr("FSBRIDGE_URL", opts.BaseURL), "Server URL")
	flag.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Per-request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := &cli{client: client.New(opts), out: os.Stdout, in: os.Stdin}
	if err := cli.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var apiErr *client.APIError
		switch {
		case errors.Is(err, errUsage):
			flag.Usage()
			os.Exit(2)
		case errors.As(err, &apiErr):
			fmt.Fprintf(os.Stderr, "fsbridgectl: %s (%d): %s\n", apiErr.Name, apiErr.Status, apiErr.Message)
		default:
			fmt.Fprintf(os.Stderr, "fsbridgectl: %v\n", err)
		}
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
