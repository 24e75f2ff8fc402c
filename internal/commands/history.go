package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/config"
)

func addHistory(topLevel *cobra.Command, cfg *config.Config) {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit the saved conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var width uint
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the conversation as a table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfg, func(ctx context.Context, s *chat.Store) error {
				msgs, err := s.GetAllMessages(ctx)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), msgs, width, time.Now())
				return nil
			})
		},
	}
	list.Flags().UintVar(&width, "width", 60, "max content column width")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every message.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfg, func(ctx context.Context, s *chat.Store) error {
				return s.Clear(ctx)
			})
		},
	}

	truncate := &cobra.Command{
		Use:   "truncate <id>",
		Short: "Delete a message and everything after it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfg, func(ctx context.Context, s *chat.Store) error {
				return s.DeleteMessagesFrom(ctx, args[0])
			})
		},
	}

	reorder := &cobra.Command{
		Use:   "reorder <active> <over>",
		Short: "Move message <active> to the position of <over>.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfg, func(ctx context.Context, s *chat.Store) error {
				if err := s.ReorderMessages(ctx, args[0], args[1]); err != nil {
					return err
				}
				msgs, err := s.GetAllMessages(ctx)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), msgs, width, time.Now())
				return nil
			})
		},
	}

	cmd.AddCommand(list, clearCmd, truncate, reorder)
	topLevel.AddCommand(cmd)
}

func withStore(ctx context.Context, cfg config.Config, fn func(context.Context, *chat.Store) error) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.store)
}

func printHistory(w io.Writer, msgs []chat.Message, width uint, now time.Time) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "no messages")
		return
	}
	if width == 0 {
		width = 60
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = width
	tbl.AddRow("ID", "ROLE", "WHEN", "SIZE", "FILES", "CONTENT")
	for _, m := range msgs {
		tbl.AddRow(
			m.ID,
			m.Role,
			humanize.RelTime(time.UnixMilli(m.Timestamp), now, "ago", "from now"),
			humanize.Bytes(uint64(len(m.Content))),
			len(m.Files),
			strings.Join(strings.Fields(m.Content), " "),
		)
	}
	fmt.Fprintln(w, tbl)
}
