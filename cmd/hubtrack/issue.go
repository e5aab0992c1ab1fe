package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hubtrack/internal/domain"
	hubtracksdk "hubtrack/sdk/go"
)

func issueCmd() *cobra.Command {
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Manage issues",
		Long:  "Issues are reported problems in a category. They move Open -> In Progress -> Resolved; the reporter or an assignee may move them, and the first assignee starts work.",
	}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueListCmd())
	issue.AddCommand(issueGetCmd())
	issue.AddCommand(issueEditCmd())
	issue.AddCommand(issueStatusCmd())
	issue.AddCommand(issueMoveCmd())
	issue.AddCommand(issueJoinCmd())
	issue.AddCommand(issueArchiveCmd())
	issue.AddCommand(issueDeleteCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var in hubtracksdk.NewIssue
	var category string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if category != "" {
				c, err := parseCategory(category)
				if err != nil {
					return err
				}
				in.Category = c
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.CreateIssue(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "Academy, Management, Hub, External or Other (default Other)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issues, err := c.ListIssues(ctx, view)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				renderIssues(issues)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "active", "active, resolved or archived")
	return cmd
}

func issueGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
}

func issueEditCmd() *cobra.Command {
	var title, description, category string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit title, description or category (authorized users)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edit hubtracksdk.IssueEdit
			if cmd.Flags().Changed("title") {
				edit.Title = &title
			}
			if cmd.Flags().Changed("description") {
				edit.Description = &description
			}
			if cmd.Flags().Changed("category") {
				c, err := parseCategory(category)
				if err != nil {
					return err
				}
				edit.Category = &c
			}
			if edit.Title == nil && edit.Description == nil && edit.Category == nil {
				return errors.New("nothing to change; pass --title, --description or --category")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.UpdateIssue(ctx, args[0], edit)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&category, "category", "", "new category")
	return cmd
}

func issueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <open|in-progress|resolved>",
		Short: "Set an issue's status directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseIssueStatus(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.SetIssueStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
}

func issueMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <open|in-progress|resolved>",
		Short: "Move an issue to another board column (reporter or assignee)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseIssueStatus(args[1])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.MoveIssue(ctx, args[0], status)
				if hubtracksdk.IsNotPermitted(err) {
					return errors.New("only the reporter or an assignee can move this issue; run hubtrack issue join first")
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
}

func issueJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <id>",
		Short: "Join an issue as an assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				issue, err := c.JoinIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
}

func issueArchiveCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive (or with --undo, unarchive) an issue (authorized users)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				archive := c.ArchiveIssue
				if undo {
					archive = c.UnarchiveIssue
				}
				issue, err := archive(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(issue)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "unarchive instead")
	return cmd
}

func issueDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently delete an issue (authorized users)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("deleting is permanent; pass --yes to confirm")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *hubtracksdk.Client) error {
				if err := c.DeleteIssue(ctx, args[0]); err != nil {
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

func renderIssues(issues []domain.Issue) {
	tw := newTable()
	tw.AppendHeader(rowOf("ID", "Title", "Category", "Status", "Reporter", "Assignees", "Updated"))
	for _, i := range issues {
		tw.AppendRow(rowOf(shortID(i.ID), i.Title, i.Category, i.Status, i.ReporterName, assigneeNames(i), ago(i.UpdatedAt)))
	}
	tw.Render()
}
