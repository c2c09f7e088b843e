package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/internal/evapi"
	"github.com/voltadmin/apicache/platform"
)

type cmdEnv struct {
	sess     *platform.Session
	out      io.Writer
	interval time.Duration
}

type command struct {
	name    string
	usage   string
	help    string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, env *cmdEnv, args []string) error
}

func (c command) arity(n int) bool { return n >= c.minArgs && n <= c.maxArgs }

var commands = []command{
	{name: "login", usage: "login <email> <password>", help: "sign in and store the session token", minArgs: 2, maxArgs: 2, run: runLogin},
	{name: "logout", usage: "logout", help: "forget the stored session", run: runLogout},
	{name: "stations", usage: "stations [status]", help: "list stations, optionally by status", maxArgs: 1, run: runStations},
	{name: "station", usage: "station <id>", help: "show one station as JSON", minArgs: 1, maxArgs: 1, run: runStation},
	{name: "set-status", usage: "set-status <id> <status>", help: "change a station's status", minArgs: 2, maxArgs: 2, run: runSetStatus},
	{name: "watch", usage: "watch <id>", help: "print a station status whenever it changes", minArgs: 1, maxArgs: 1, run: runWatch},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func runLogin(ctx context.Context, env *cmdEnv, args []string) error {
	sess, err := apicache.Mutate(ctx, env.sess.Client, evapi.Login, evapi.Credentials{Email: args[0], Password: args[1]})
	if err != nil {
		return err
	}
	env.sess.SignIn(ctx, sess.Token)
	fmt.Fprintf(env.out, "signed in as %s (%s)\n", sess.User.Email, sess.User.Role)
	return nil
}

func runLogout(ctx context.Context, env *cmdEnv, _ []string) error {
	env.sess.SignOut(ctx)
	fmt.Fprintln(env.out, "signed out")
	return nil
}

func runStations(ctx context.Context, env *cmdEnv, args []string) error {
	var f evapi.StationFilter
	if len(args) == 1 {
		f.Status = evapi.StationStatus(args[0])
		if !f.Status.Valid() {
			return fmt.Errorf("unknown status %q", args[0])
		}
	}
	stations, err := apicache.Fetch(ctx, env.sess.Client, evapi.ListStations, f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCONNECTORS\tUPDATED")
	for _, s := range stations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Status, s.ConnectorCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runStation(ctx context.Context, env *cmdEnv, args []string) error {
	s, err := apicache.Fetch(ctx, env.sess.Client, evapi.GetStation, args[0])
	if err != nil {
		return err
	}
	return printJSON(env.out, s)
}

func runSetStatus(ctx context.Context, env *cmdEnv, args []string) error {
	status := evapi.StationStatus(args[1])
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", args[1])
	}
	s, err := apicache.Mutate(ctx, env.sess.Client, evapi.UpdateStation, evapi.StationPatch{ID: args[0], Status: &status})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "%s is now %s\n", s.ID, s.Status)
	return nil
}

// runWatch prints the station status on every settled change until ctx
// ends, refetching on env.interval.
func runWatch(ctx context.Context, env *cmdEnv, args []string) error {
	var (
		mu   sync.Mutex
		last string
		fail = make(chan error, 1)
	)
	id := args[0]
	h, err := apicache.Subscribe(env.sess.Client, evapi.GetStationStatus, id, func(st apicache.State[*wrapperspb.StringValue]) {
		switch st.Status {
		case apicache.StatusFulfilled:
			mu.Lock()
			defer mu.Unlock()
			if st.Data.GetValue() == last {
				return
			}
			last = st.Data.GetValue()
			fmt.Fprintf(env.out, "%s %s %s\n", st.FulfilledAt.Format(time.RFC3339), id, last)
		case apicache.StatusRejected:
			select {
			case fail <- st.Err:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer h.Unsubscribe()

	t := time.NewTicker(env.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fail:
			return err
		case <-t.C:
			h.Refetch()
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
