package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"tallybill/internal/connectivity"
	"tallybill/internal/syncengine"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncDrainCmd)
	syncCmd.AddCommand(syncRefreshCmd)
	syncCmd.AddCommand(syncDiscardCmd)
	syncCmd.AddCommand(syncWatchCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive synchronization with the backend",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, last sync and queued actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Endpoint:   %s\n", s.client.Endpoint())
			printState(cmd.OutOrStdout(), s.engine.State())
			return nil
		})
	},
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay queued actions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			if !s.engine.Online() {
				return errors.New("backend unreachable; actions stay queued")
			}
			res, err := s.engine.DrainNow(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d, remaining %d\n", res.Sent, res.Remaining)
			if res.Failed != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped at #%d %s; discard it with 'tallybill sync discard %d' if the backend keeps rejecting it\n",
					res.Failed.ID, res.Failed.Action.Name(), res.Failed.ID)
			}
			return err
		})
	},
}

var syncRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch fresh inventory and bills from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			if !s.engine.Online() {
				return errors.New("backend unreachable; showing local data only")
			}
			if err := s.engine.RefreshData(ctx); err != nil {
				return err
			}
			st := s.engine.State()
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed: %d products, %d bills, %d still queued\n", len(st.Inventory), len(st.Bills), len(st.Queue))
			return nil
		})
	},
}

var syncDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Drop a queued action without sending it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid queue id %q", args[0])
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			if !s.engine.Discard(ctx, id) {
				return fmt.Errorf("no queued action #%d", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded #%d\n", id)
			return nil
		})
	},
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync whenever the backend is reachable",
	Long: "Probe the backend periodically, replay queued actions on reconnect and\n" +
		"print a line whenever connectivity or the queue changes. Stop with Ctrl-C.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		monitor := connectivity.NewMonitor(s.client, s.cfg.ProbeInterval)
		if offlineFlag {
			monitor.Set(false)
		}

		out := cmd.OutOrStdout()
		var (
			mu   sync.Mutex
			last string
		)
		unsubscribe := s.engine.Subscribe(func(st syncengine.State) {
			line := watchLine(st)
			mu.Lock()
			defer mu.Unlock()
			if line != last {
				last = line
				fmt.Fprintln(out, line)
			}
		})
		defer unsubscribe()

		done := make(chan struct{})
		go func() {
			defer close(done)
			monitor.Run(ctx)
		}()
		s.engine.Run(ctx, monitor.Events())
		<-done
		return nil
	},
}

func watchLine(st syncengine.State) string {
	status := "offline"
	if st.Online {
		status = "online"
	}
	line := fmt.Sprintf("%s: %d queued, %d products, %d bills", status, len(st.Queue), len(st.Inventory), len(st.Bills))
	if st.Syncing || st.Loading {
		line += " (syncing)"
	}
	return line
}
