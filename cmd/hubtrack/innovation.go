package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hubtrack/internal/domain"
	hubtracksdk "hubtrack/sdk/go"
)

func innovationCmd() *cobra.Command {
	inn := &cobra.Command{
		Use:     "innovation",
		Aliases: []string{"inno"},
		Short:   "Manage innovations",
		Long:    "Innovations record a problem and its current solution. Joining moves an Unattended innovation to In Progress; saving a solution keeps the previous one in history and marks it Solved.",
	}
	inn.AddCommand(innovationCreateCmd())
	inn.AddCommand(innovationListCmd())
	inn.AddCommand(innovationGetCmd())
	inn.AddCommand(innovationStatusCmd())
	inn.AddCommand(innovationJoinCmd())
	inn.AddCommand(innovationSolutionCmd())
	inn.AddCommand(innovationArchiveCmd())
	inn.AddCommand(innovationDeleteCmd())
	inn.AddCommand(commentCmd())
	return inn
}

func innovationCreateCmd() *cobra.Command {
	var in hubtracksdk.NewInnovation
	var completed bool
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record an innovation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.StartDate, err = parseDate(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if in.EndDate, err = parseDate(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if completed {
				in.Status = domain.InnovationCompleted
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				created, err := c.CreateInnovation(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Problem, "problem", "", "problem statement")
	cmd.Flags().StringVar(&in.CurrentSolution, "solution", "", "current solution")
	cmd.Flags().StringVar(&in.Link, "link", "", "reference link")
	cmd.Flags().BoolVar(&completed, "completed", false, "document an already finished innovation")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func innovationListCmd() *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List innovations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				items, err := c.ListInnovations(ctx, archived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(rowOf("ID", "Title", "Status", "Created by", "Participants", "Started"))
				for _, in := range items {
					tw.AppendRow(rowOf(shortID(in.ID), in.Title, in.Status, in.CreatedBy.Name, len(in.Participants), in.StartDate.Local().Format(time.DateOnly)))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "list archived innovations")
	return cmd
}

func innovationGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an innovation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				in, err := c.GetInnovation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func innovationStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <unattended|in-progress|solved|completed>",
		Short: "Set an innovation's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseInnovationStatus(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				in, err := c.SetInnovationStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func innovationJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <id>",
		Short: "Join an innovation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				in, err := c.JoinInnovation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func innovationSolutionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "solution <id> <text>",
		Short: "Replace the current solution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				in, err := c.UpdateSolution(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
}

func innovationArchiveCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive (or with --undo, unarchive) an innovation (authorized users)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				archive := c.ArchiveInnovation
				if undo {
					archive = c.UnarchiveInnovation
				}
				in, err := archive(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "unarchive instead")
	return cmd
}

func innovationDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently delete an innovation and its comments (authorized users)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("deleting is permanent; pass --yes to confirm")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				if err := c.DeleteInnovation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Innovation comments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <innovation-id>",
		Short: "List comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				comments, err := c.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				tw := newTable()
				tw.AppendHeader(rowOf("When", "Who", "Comment"))
				for _, cm := range comments {
					tw.AppendRow(rowOf(ago(cm.CreatedAt), cm.UserName, cm.Text))
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <innovation-id> <text>",
		Short: "Comment on an innovation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				cm, err := c.AddComment(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(cm)
			})
		},
	})
	return cmd
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
