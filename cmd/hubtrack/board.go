package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"hubtrack/internal/board"
	"hubtrack/internal/domain"
	"hubtrack/internal/identity"
	hubtracksdk "hubtrack/sdk/go"
)

func boardCmd() *cobra.Command {
	var view string
	var once bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Live Kanban board",
		Long: `Shows issues grouped by status and redraws on every change.
Commands (one per line on stdin):
  move <id> <open|in-progress|resolved>    drag a card (reporter or assignee only)
  status <id> <open|in-progress|resolved>  set status directly
  dismiss                                  clear notices
  quit
Ids may be abbreviated to any unique prefix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				session := &identity.Session{}
				provider := &identity.TokenProvider{Verifier: c, Token: identity.StaticToken(c.BearerToken), Session: session}
				principal, err := provider.SignIn(ctx)
				if err != nil {
					return err
				}
				viewer := principal.DisplayLabel()

				feed, err := c.WatchIssues(ctx, view)
				if err != nil {
					return err
				}
				b := board.New(feed, session, hubtracksdk.Backend{Client: c}, logger.Named("board"))
				defer b.Close()

				cmdCtx, cancel := context.WithCancel(ctx)
				var pending sync.WaitGroup
				defer func() {
					cancel()
					pending.Wait()
				}()

				lines := make(chan string)
				if !once {
					go func() {
						defer close(lines)
						scanner := bufio.NewScanner(os.Stdin)
						for scanner.Scan() {
							lines <- scanner.Text()
						}
					}()
				}
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-b.Changes():
						if b.Loading() {
							continue
						}
						renderBoard(b, viewer)
						if once {
							return b.Err()
						}
					case line, ok := <-lines:
						if !ok {
							return nil
						}
						if dispatchBoardCommand(cmdCtx, &pending, b, line, os.Stdout) {
							return nil
						}
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "active", "active, resolved or archived")
	cmd.Flags().BoolVar(&once, "once", false, "print the board once and exit")
	return cmd
}

// dispatchBoardCommand handles one stdin line and reports whether to quit.
// Writes run on their own goroutine so the board redraws with the local
// change while the commit is still in flight.
func dispatchBoardCommand(ctx context.Context, pending *sync.WaitGroup, b *board.Board, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "q", "exit":
		return true
	case "dismiss":
		b.Dismiss()
		return false
	case "move", "status":
		if len(fields) < 3 {
			fmt.Fprintf(out, "error: usage: %s <id> <status>\n", fields[0])
			return false
		}
		id, err := resolveIssueID(b.Issues(), fields[1])
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		status, err := parseIssueStatus(strings.Join(fields[2:], " "))
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		write := b.SetStatus
		if fields[0] == "move" {
			write = b.Move
		}
		pending.Add(1)
		go func() {
			defer pending.Done()
			// Denials and reverted writes surface as notices on the next redraw.
			if err := write(ctx, id, status); errors.Is(err, board.ErrSignedOut) {
				fmt.Fprintln(out, "error:", err)
			}
		}()
		return false
	}
	fmt.Fprintf(out, "error: unknown command %q\n", fields[0])
	return false
}

func resolveIssueID(issues []domain.Issue, prefix string) (string, error) {
	var match string
	for _, i := range issues {
		if i.ID == prefix {
			return i.ID, nil
		}
		if strings.HasPrefix(i.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = i.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no issue with id %q on the board", prefix)
	}
	return match, nil
}

func renderBoard(b *board.Board, viewer string) {
	cols := b.Columns()
	tw := newTable()
	header := make([]any, 0, len(cols))
	depth := 0
	for _, col := range cols {
		header = append(header, fmt.Sprintf("%s (%d)", col.Status, len(col.Issues)))
		if len(col.Issues) > depth {
			depth = len(col.Issues)
		}
	}
	tw.AppendHeader(rowOf(header...))
	for r := 0; r < depth; r++ {
		row := make([]any, 0, len(cols))
		for _, col := range cols {
			if r >= len(col.Issues) {
				row = append(row, "")
				continue
			}
			row = append(row, card(col.Issues[r]))
		}
		tw.AppendRow(rowOf(row...))
	}
	fmt.Printf("\nBoard for %s\n", viewer)
	tw.Render()
	if err := b.Err(); err != nil {
		fmt.Println("live updates failed, showing last known state:", err)
	}
	for _, n := range b.Notices() {
		fmt.Printf("[%s] %s\n", n.Kind, n.Message)
	}
}

func card(i domain.Issue) string {
	lines := []string{fmt.Sprintf("%s  %s", shortID(i.ID), i.Title), fmt.Sprintf("%s · %s", i.Category, i.ReporterName)}
	if names := assigneeNames(i); names != "" {
		lines = append(lines, "→ "+names)
	}
	return strings.Join(lines, "\n")
}
