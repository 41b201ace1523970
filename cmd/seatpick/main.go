// seatpick joins a screening's live seat map, auto-selects the best block of
// seats and books them.
//
// Usage:
//
//	seatpick --screening 1 --tickets 3 [--server http://localhost:8080]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/iliyamo/cinema-seat-hold/internal/coordinator"
	"github.com/iliyamo/cinema-seat-hold/internal/seatevent"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server      string
		screeningID uint64
		tickets     int
		ticketType  uint64
		attempts    int
		dryRun      bool
		verbose     bool
	)
	flagSet := pflag.NewFlagSet("seatpick", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "http://localhost:8080", "seat-hold API base URL")
	flagSet.Uint64Var(&screeningID, "screening", 0, "screening id (required)")
	flagSet.IntVarP(&tickets, "tickets", "n", 2, "number of seats to book")
	flagSet.Uint64Var(&ticketType, "ticket-type", 1, "ticket type id charged for every seat")
	flagSet.IntVar(&attempts, "attempts", 3, "booking attempts before giving up on conflicts")
	flagSet.BoolVar(&dryRun, "dry-run", false, "hold and print the seats, then release them without booking")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every stream event")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if screeningID == 0 {
		return errors.New("--screening is required")
	}
	if tickets < 1 {
		return errors.New("--tickets must be at least 1")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := coordinator.NewHTTPClient(server)
	sess, err := client.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	layout, err := client.Layout(ctx, screeningID)
	if err != nil {
		return fmt.Errorf("load layout: %w", err)
	}
	labels := seatLabels(layout)
	logger.Info("joined screening", "screening_id", screeningID, "auditorium", layout.AuditoriumName, "session_id", sess.SessionID)

	c := coordinator.New(client, screeningID, sess.SessionID, layout, coordinator.WithLogger(logger))

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	ready := make(chan struct{})
	go func() {
		first := true
		err := client.Stream(streamCtx, screeningID, func(ev seatevent.Event) {
			c.ApplyEvent(ev)
			logger.Debug("event", "id", ev.ID, "type", ev.Type)
			if first && ev.Type == seatevent.TypeSnapshot {
				first = false
				close(ready)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stream ended", "err", err)
		}
	}()
	select {
	case <-ready:
	case <-time.After(10 * time.Second):
		return errors.New("no snapshot from the server")
	case <-ctx.Done():
		return ctx.Err()
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.SetRequired(ctx, tickets); err != nil {
			return err
		}
		selected := c.Selected()
		if len(selected) < tickets {
			return fmt.Errorf("only %d seats available", len(selected))
		}
		fmt.Printf("holding %s\n", describe(selected, labels))

		if dryRun {
			return c.SetRequired(context.WithoutCancel(ctx), 0)
		}
		out, err := c.Finalize(ctx, func(uint64) uint64 { return ticketType })
		if err != nil {
			return err
		}
		if out.OK {
			fmt.Printf("booked %s: confirmation %s, total %d.%02d\n",
				describe(selected, labels), out.Confirmation, out.TotalPrice/100, out.TotalPrice%100)
			return nil
		}
		fmt.Printf("seats %s were taken, picking again\n", describe(out.Conflicts, labels))
	}
	_ = c.SetRequired(context.WithoutCancel(ctx), 0)
	return fmt.Errorf("gave up after %d attempts", attempts)
}

func seatLabels(l *coordinator.Layout) map[uint64]string {
	out := make(map[uint64]string)
	for _, r := range l.Rows {
		for _, s := range r.Seats {
			out[s.ID] = fmt.Sprintf("%s%d", r.RowLabel, s.SeatNumber)
		}
	}
	return out
}

func describe(ids []uint64, labels map[uint64]string) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		if l, ok := labels[id]; ok {
			names[i] = l
		} else {
			names[i] = fmt.Sprintf("#%d", id)
		}
	}
	return strings.Join(names, ", ")
}
