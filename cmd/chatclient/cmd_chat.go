package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	chatmodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	presencemodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/chat"
)

// chatCmd starts the interactive session
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Connects to the broker, polls friend presence and reads commands from stdin.

Commands:
  /friends        list friends, online first
  /open <userId>  open the conversation with a friend
  /more           load the next older page of history
  /close          close the open conversation
  /reconnect      reconnect the realtime session
  /quit           exit
Any other line is sent to the open conversation.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	poller := a.newPoller()
	session := a.newSession()
	defer session.Disconnect()

	ctrl := chat.NewController(session, a.history, poller, chat.ControllerOptions{
		SelfID:   a.resolveSelfID(ctx),
		PageSize: cfg.Chat.HistoryPageSize,
		Logger:   logger,
		Metrics:  a.metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		return a.serveOps(gctx, ctrl, session)
	})

	out := cmd.OutOrStdout()
	g.Go(func() error {
		printChanges(gctx, out, ctrl)
		return nil
	})

	lines := readLines(cmd.InOrStdin())
	g.Go(func() error {
		err := repl(gctx, out, ctrl, lines)
		stop()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readLines feeds stdin lines into a channel closed at EOF. The reader
// goroutine ends with the process.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func repl(ctx context.Context, out io.Writer, ctrl *chat.Controller, lines <-chan string) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		quit, err := handleLine(ctx, out, ctrl, line)
		if err != nil {
			if errors.Is(err, chat.ErrNotRunning) {
				return nil
			}
			fmt.Fprintf(out, "! %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, ctrl *chat.Controller, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, ctrl.Send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/friends":
		printFriends(out, ctrl.Friends())
		return false, nil
	case "/open":
		if len(fields) != 2 {
			return false, errors.New("usage: /open <userId>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid user id %q", fields[1])
		}
		friend, ok := findFriend(ctrl.Friends(), id)
		if !ok {
			return false, fmt.Errorf("user %d is not in your friend list", id)
		}
		return false, ctrl.OpenChat(ctx, friend)
	case "/more":
		return false, ctrl.LoadMore(ctx)
	case "/close":
		return false, ctrl.CloseChat(ctx)
	case "/reconnect":
		return false, ctrl.Reconnect(ctx)
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func findFriend(friends []presencemodel.Entry, id int64) (presencemodel.Entry, bool) {
	for _, f := range friends {
		if f.UserID == id {
			return f, true
		}
	}
	return presencemodel.Entry{}, false
}

// printChanges writes confirmed messages of the open conversation as they
// appear. Placeholders are skipped; their echo is printed instead.
func printChanges(ctx context.Context, out io.Writer, ctrl *chat.Controller) {
	changes, cancel := ctrl.Watch()
	defer cancel()

	var (
		friendID int64
		state    string
		printed  = make(map[string]struct{})
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		snap := ctrl.Snapshot()
		var current int64
		if snap.ActiveFriend != nil {
			current = snap.ActiveFriend.UserID
		}
		if current != friendID {
			friendID = current
			printed = make(map[string]struct{})
			if snap.ActiveFriend != nil {
				fmt.Fprintf(out, "-- chatting with %s --\n", snap.ActiveFriend.DisplayName())
			} else {
				fmt.Fprintln(out, "-- conversation closed --")
			}
		}
		if snap.State != state {
			state = snap.State
			if state == chat.StateLoading.String() {
				fmt.Fprintln(out, "   loading messages...")
			}
		}

		for _, msg := range snap.Messages {
			if msg.IsPlaceholder() {
				continue
			}
			key := msg.Key()
			if _, ok := printed[key]; ok {
				continue
			}
			printed[key] = struct{}{}
			printMessage(out, msg, snap.ActiveFriend)
		}
	}
}

func printMessage(out io.Writer, msg chatmodel.Message, friend *presencemodel.Entry) {
	who := "you"
	if friend != nil && msg.SenderID == friend.UserID {
		who = friend.DisplayName()
	}
	stamp := ""
	if !msg.CreatedAt.IsZero() {
		stamp = msg.CreatedAt.Local().Format("15:04") + " "
	}
	fmt.Fprintf(out, "%s%s: %s\n", stamp, who, msg.Content)
}
