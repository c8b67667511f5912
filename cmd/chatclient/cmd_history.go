package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/chatclient/internal/service/history"
)

var (
	historyPage int
	historySize int
)

// historyCmd prints one page of a conversation
var historyCmd = &cobra.Command{
	Use:   "history <userId>",
	Short: "Print a page of the conversation with a friend",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyPage, "page", 0, "page number, 0 is the first page")
	historyCmd.Flags().IntVar(&historySize, "size", history.DefaultPageSize, "messages per page")
}

func runHistory(cmd *cobra.Command, args []string) error {
	friendID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

	a := newApp(cfg, logger)
	ctx := cmd.Context()
	msgs, err := a.history.FetchPage(ctx, friendID, historyPage, historySize)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No messages.")
		return nil
	}
	for _, msg := range msgs {
		who := "you"
		if msg.SenderID == friendID {
			who = fmt.Sprintf("User #%d", friendID)
		}
		fmt.Fprintf(out, "%s %s: %s\n", msg.CreatedAt.Local().Format("2006-01-02 15:04"), who, msg.Content)
	}
	return nil
}
