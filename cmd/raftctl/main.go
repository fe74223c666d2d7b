// Command raftctl drives a running raftsim server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/client"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

var errUsage = errors.New("usage: raftctl [-addr url] snapshot|events [since]|pause|resume|step|reset|speed <x>|kill <id>|revive <id>|request|watch")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("raftctl", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Simulator base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	c := client.New(*addr)
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd {
	case "snapshot":
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(snap)
	case "events":
		var since uint64
		if len(rest) > 0 {
			n, err := strconv.ParseUint(rest[0], 10, 64)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			since = n
		}
		events, err := c.Events(ctx, since)
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Fprintf(out, "%d\ttick=%d\t%s\tnode=%d\tterm=%d\t%s\n", e.Index, e.Tick, e.Kind, e.Node, e.Term, e.Detail)
		}
		return nil
	case "pause":
		return c.Pause(ctx)
	case "resume":
		return c.Resume(ctx)
	case "step":
		return c.Step(ctx)
	case "reset":
		return c.Reset(ctx)
	case "speed":
		if len(rest) != 1 {
			return errUsage
		}
		m, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return fmt.Errorf("speed: %w", err)
		}
		return c.SetSpeed(ctx, m)
	case "kill", "revive":
		if len(rest) != 1 {
			return errUsage
		}
		id, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		apply := c.KillNode
		if cmd == "revive" {
			apply = c.ReviveNode
		}
		applied, err := apply(ctx, types.NodeID(id))
		if err != nil {
			return err
		}
		if !applied {
			fmt.Fprintf(out, "no node %d\n", id)
		}
		return nil
	case "request":
		leader, err := c.InjectClientRequest(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "accepted by node %d\n", leader)
		return nil
	case "watch":
		return c.Watch(ctx, func(s types.ClusterSnapshot) error {
			leader := "none"
			if s.Leader != nil {
				leader = fmt.Sprintf("%d (term %d)", s.Leader.LeaderID, s.Leader.Term)
			}
			fmt.Fprintf(out, "tick %d leader %s in-flight %d\n", s.Tick, leader, len(s.Messages))
			return nil
		})
	default:
		return errUsage
	}
}
