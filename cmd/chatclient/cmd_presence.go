package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	presencemodel "github.com/zhouzirui/z-tavern/chatclient/internal/model/presence"
)

var presenceWatch bool

// presenceCmd prints the friend presence list
var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Show friends and whether they are online",
	RunE:  runPresence,
}

func init() {
	presenceCmd.Flags().BoolVarP(&presenceWatch, "watch", "w", false, "keep polling and print every refresh")
}

func runPresence(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	poller := a.newPoller()
	out := cmd.OutOrStdout()

	if !presenceWatch {
		poller.Refresh(ctx, true)
		printFriendsWithAvatars(out, poller.Friends(), cfg.API.ServerBase())
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- poller.Run(ctx)
	}()

	for {
		select {
		case err := <-done:
			return err
		case <-poller.Updates():
			if poller.Loading() {
				fmt.Fprintln(out, "loading friends...")
				continue
			}
			fmt.Fprintf(out, "== %s ==\n", time.Now().Format(time.TimeOnly))
			printFriendsWithAvatars(out, poller.Friends(), cfg.API.ServerBase())
		}
	}
}

func printFriends(out io.Writer, friends []presencemodel.Entry) {
	printFriendsWithAvatars(out, friends, "")
}

func printFriendsWithAvatars(out io.Writer, friends []presencemodel.Entry, serverBase string) {
	if len(friends) == 0 {
		fmt.Fprintln(out, "No friends to show.")
		return
	}

	fmt.Fprintln(out, strings.Repeat("─", 50))
	for _, f := range friends {
		status := "offline"
		if f.Online {
			status = "online"
		} else if f.LastSeen != nil {
			status = "last seen " + f.LastSeen.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("  %-6d %-24s %s", f.UserID, f.DisplayName(), status)
		if serverBase != "" && f.ProfilePicture != nil {
			if avatar := presencemodel.ResolveAvatar(*f.ProfilePicture, serverBase); avatar != "" {
				line += "  " + avatar
			}
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, strings.Repeat("─", 50))
}
