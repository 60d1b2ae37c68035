package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/client"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

var errUsage = errors.New("usage")

// blockSize is the size of each read and write of cat and put
const blockSize = 256 * 1024

type cli struct {
	client *client.Client
	out    io.Writer
	in     io.Reader
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "health":
		h, err := c.client.Health(ctx)
		if err != nil {
			return err
		}
		return c.printJSON(h)
	case "list":
		return c.list(ctx)
	case "info":
		if len(args) != 1 {
			return errUsage
		}
		info, err := c.client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return c.printJSON(info)
	case "ls":
		if len(args) != 2 {
			return errUsage
		}
		return c.ls(ctx, args[0], args[1])
	case "stat":
		if len(args) != 2 {
			return errUsage
		}
		md, err := c.client.Metadata(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return c.printJSON(md)
	case "cat":
		if len(args) != 2 {
			return errUsage
		}
		return c.cat(ctx, args[0], args[1])
	case "put":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		return c.put(ctx, args)
	case "mkdir":
		parents, rest, err := parseRecursive("mkdir", "p", args, 2)
		if err != nil {
			return err
		}
		return c.client.CreateDirectory(ctx, rest[0], rest[1], *parents)
	case "touch":
		if len(args) != 2 {
			return errUsage
		}
		return c.client.CreateFile(ctx, args[0], args[1])
	case "rm":
		recursive, rest, err := parseRecursive("rm", "r", args, 2)
		if err != nil {
			return err
		}
		return c.client.DeleteEntry(ctx, rest[0], rest[1], *recursive)
	case "cp", "mv":
		if len(args) != 3 {
			return errUsage
		}
		if cmd == "cp" {
			return c.client.Copy(ctx, args[0], args[1], args[2])
		}
		return c.client.Move(ctx, args[0], args[1], args[2])
	case "truncate":
		if len(args) != 3 {
			return errUsage
		}
		length, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid length %q: %w", args[2], err)
		}
		return c.client.Truncate(ctx, args[0], args[1], length)
	case "actions":
		if len(args) < 2 {
			return errUsage
		}
		actions, err := c.client.Actions(ctx, args[0], args[1:])
		if err != nil {
			return err
		}
		return c.printJSON(actions)
	case "run":
		if len(args) < 3 {
			return errUsage
		}
		return c.client.ExecuteAction(ctx, args[0], args[2:], args[1])
	case "watch":
		recursive, rest, err := parseRecursive("watch", "r", args, 2)
		if err != nil {
			return err
		}
		return c.watch(ctx, rest[0], rest[1], *recursive)
	case "unwatch":
		recursive, rest, err := parseRecursive("unwatch", "r", args, 2)
		if err != nil {
			return err
		}
		return c.client.RemoveWatcher(ctx, rest[0], rest[1], *recursive)
	case "events":
		return c.events(ctx, args)
	case "pending":
		if len(args) != 1 {
			return errUsage
		}
		pending, err := c.client.Pending(ctx, args[0])
		if err != nil {
			return err
		}
		return c.printJSON(pending)
	case "abort":
		if len(args) != 2 {
			return errUsage
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid request id %q: %w", args[1], err)
		}
		return c.client.Abort(ctx, args[0], types.RequestID(id))
	case "unmount":
		if len(args) != 1 {
			return errUsage
		}
		return c.client.RequestUnmount(ctx, args[0])
	case "mount-request":
		return c.client.RequestMount(ctx)
	case "configure":
		if len(args) != 1 {
			return errUsage
		}
		return c.client.Configure(ctx, args[0])
	case "log-level":
		if len(args) == 1 {
			return c.client.SetLogLevel(ctx, args[0])
		}
		level, err := c.client.LogLevel(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.out, level)
		return err
	default:
		return errUsage
	}
}

// parseRecursive parses a single boolean flag followed by want positional
// arguments
func parseRecursive(cmd, name string, args []string, want int) (*bool, []string, error) {
	set := flag.NewFlagSet(cmd, flag.ContinueOnError)
	set.SetOutput(io.Discard)
	recursive := set.Bool(name, false, "recursive")
	if err := set.Parse(args); err != nil || set.NArg() != want {
		return nil, nil, errUsage
	}
	return recursive, set.Args(), nil
}

func (c *cli) printJSON(v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

func (c *cli) list(ctx context.Context) error {
	list, err := c.client.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tWRITABLE\tOPEN\tWATCHERS")
	for _, fs := range list {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\n",
			fs.FileSystemID, fs.DisplayName, fs.Writable, len(fs.OpenedFiles), len(fs.Watchers))
	}
	return w.Flush()
}

func (c *cli) ls(ctx context.Context, fsID, dirPath string) error {
	listing, err := c.client.ReadDirectory(ctx, fsID, dirPath)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, e := range listing.Entries {
		name := e.Name
		if e.IsDirectory {
			name += "/"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.Size, e.ModificationTime.Local().Format(time.DateTime), name)
	}
	return w.Flush()
}

func (c *cli) cat(ctx context.Context, fsID, filePath string) error {
	opened, err := c.client.Open(ctx, fsID, filePath, types.OpenModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = c.client.Close(context.WithoutCancel(ctx), fsID, opened.OpenRequestID) }()

	var offset int64
	for {
		block, err := c.client.Read(ctx, fsID, opened.OpenRequestID, offset, blockSize)
		if err != nil {
			return err
		}
		if _, err := c.out.Write(block); err != nil {
			return err
		}
		offset += int64(len(block))
		if len(block) < blockSize {
			return nil
		}
	}
}

// put replaces the content of a file, creating it when missing
func (c *cli) put(ctx context.Context, args []string) error {
	fsID, filePath := args[0], args[1]
	src := c.in
	if len(args) == 3 {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	if err := c.client.CreateFile(ctx, fsID, filePath); err != nil && !errors.Is(err, types.CodeExists) {
		return err
	}
	if err := c.client.Truncate(ctx, fsID, filePath, 0); err != nil {
		return err
	}
	opened, err := c.client.Open(ctx, fsID, filePath, types.OpenModeWrite)
	if err != nil {
		return err
	}

	var offset int64
	buf := make([]byte, blockSize)
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if err := c.client.Write(ctx, fsID, opened.OpenRequestID, offset, buf[:n]); err != nil {
				_ = c.client.Close(context.WithoutCancel(ctx), fsID, opened.OpenRequestID)
				return err
			}
			offset += int64(n)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			_ = c.client.Close(context.WithoutCancel(ctx), fsID, opened.OpenRequestID)
			return readErr
		}
	}
	return c.client.Close(ctx, fsID, opened.OpenRequestID)
}

// watch adds a watcher, prints its changes until interrupted and removes it
func (c *cli) watch(ctx context.Context, fsID, entryPath string, recursive bool) error {
	pattern := entryPath
	if recursive {
		pattern = entryPath + "/**"
		if entryPath == "/" {
			pattern = "/**"
		}
	}
	events, err := c.client.Events(ctx, fsID, pattern)
	if err != nil {
		return err
	}
	if err := c.client.AddWatcher(ctx, fsID, entryPath, recursive); err != nil {
		return err
	}
	defer func() { _ = c.client.RemoveWatcher(context.WithoutCancel(ctx), fsID, entryPath, recursive) }()

	return c.printEvents(ctx, events)
}

func (c *cli) events(ctx context.Context, args []string) error {
	set := flag.NewFlagSet("events", flag.ContinueOnError)
	set.SetOutput(io.Discard)
	fsID := set.String("fs", "", "file system id")
	if err := set.Parse(args); err != nil || set.NArg() > 1 {
		return errUsage
	}
	events, err := c.client.Events(ctx, *fsID, set.Arg(0))
	if err != nil {
		return err
	}
	return c.printEvents(ctx, events)
}

func (c *cli) printEvents(ctx context.Context, events <-chan types.ChangeEvent) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("event stream closed by server")
			}
			fmt.Fprintf(c.out, "%s %s %s:%s\n",
				ev.ReceivedAt.Local().Format(time.TimeOnly), ev.ChangeType, ev.FileSystemID, ev.ObservedPath)
			for _, ch := range ev.Changes {
				fmt.Fprintf(c.out, "  %s %s\n", ch.ChangeType, ch.EntryPath)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
