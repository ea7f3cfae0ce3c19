package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tasksync/internal/app"
	"tasksync/internal/model"
)

const dateLayout = "2006-01-02"

// withClient resumes the session, loads the cache, runs fn and waits for any
// follow-up writes before closing.
func withClient(cmd *cobra.Command, e *env, fn func(c *app.Client, actor model.Identity) error) error {
	actor, err := e.identity(cmd.Context())
	if err != nil {
		return err
	}
	c, err := e.client(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c, actor)
}

func tasksCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and change tasks",
	}
	cmd.AddCommand(taskListCmd(e), taskCreateCmd(e), taskUpdateCmd(e), taskDeleteCmd(e))
	return cmd
}

func taskListCmd(e *env) *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				var tasks []model.Task
				for _, t := range c.Cache().Tasks.Get() {
					if mine && !t.AssignedToName(actor.Name) {
						continue
					}
					tasks = append(tasks, t)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&mine, "mine", "m", false, "Only tasks assigned to me")
	return cmd
}

func taskCreateCmd(e *env) *cobra.Command {
	var (
		in  model.TaskInput
		due string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if due != "" {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid --due: %w", err)
				}
				in.DueDate = &d
			}
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				t, err := c.Mutations().CreateTask(cmd.Context(), actor, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created %s\n", t.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&in.Title, "title", "t", "", "Title")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "Description")
	cmd.Flags().StringVarP(&in.AssignedTo, "assign", "a", "", "Assignee name")
	cmd.Flags().StringVar((*string)(&in.Priority), "priority", "", "low, medium or high")
	cmd.Flags().StringVar((*string)(&in.Status), "status", "", "todo, in-progress, in-review or completed")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func taskUpdateCmd(e *env) *cobra.Command {
	var (
		title, description, assign, priority, status, notes, due string
		progress                                                 int
	)
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update a task; members may only change status, progress and notes on their own tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("assign") {
				patch.AssignedTo = &assign
			}
			if flags.Changed("priority") {
				p := model.TaskPriority(priority)
				patch.Priority = &p
			}
			if flags.Changed("status") {
				s := model.TaskStatus(status)
				patch.Status = &s
			}
			if flags.Changed("progress") {
				patch.Progress = &progress
			}
			if flags.Changed("notes") {
				patch.MemberNotes = &notes
			}
			if flags.Changed("due") {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid --due: %w", err)
				}
				patch.DueDate = &d
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to update")
			}

			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				t, err := c.Mutations().UpdateTask(cmd.Context(), actor, args[0], patch)
				if err != nil {
					return err
				}
				printTasks([]model.Task{t})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&assign, "assign", "", "Assignee name")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&status, "status", "", "todo, in-progress, in-review or completed")
	cmd.Flags().IntVar(&progress, "progress", 0, "Progress 0-100")
	cmd.Flags().StringVar(&notes, "notes", "", "Member notes")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")

	return cmd
}

func taskDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				if err := c.Mutations().DeleteTask(cmd.Context(), actor, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func notificationsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notes"},
		Short:   "Read and clear notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				printNotifications(c.Cache().Notifications.Get())
				fmt.Printf("%d unread\n", c.Cache().UnreadCount())
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				return c.Mutations().MarkNotificationRead(cmd.Context(), actor, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				return c.Mutations().MarkAllNotificationsRead(cmd.Context(), actor)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				return c.Mutations().DeleteNotification(cmd.Context(), actor, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				return c.Mutations().ClearNotifications(cmd.Context(), actor)
			})
		},
	})

	return cmd
}

func membersCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE")
				for _, p := range c.Cache().Profiles.Get() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", p.ID, p.Name, p.Role, p.Active)
				}
				return w.Flush()
			})
		},
	}

	var in model.ProfileInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a member with a secret number (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Role = model.RoleMember
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				p, err := c.Mutations().CreateMember(cmd.Context(), actor, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created member %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	}
	create.Flags().StringVarP(&in.Name, "name", "n", "", "Name")
	create.Flags().StringVarP(&in.Email, "email", "e", "", "Email")
	create.Flags().StringVarP(&in.SecretNumber, "secret", "s", "", "Secret number")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("secret")

	var name string
	var active bool
	update := &cobra.Command{
		Use:   "update [id]",
		Short: "Rename a profile or toggle whether it may sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.ProfilePatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("active") {
				patch.Active = &active
			}
			return withClient(cmd, e, func(c *app.Client, actor model.Identity) error {
				_, err := c.Mutations().UpdateProfile(cmd.Context(), actor, args[0], patch)
				return err
			})
		},
	}
	update.Flags().StringVarP(&name, "name", "n", "", "New name")
	update.Flags().BoolVar(&active, "active", true, "Whether the profile may sign in")

	cmd.AddCommand(create, update)
	return cmd
}

func printTasks(tasks []model.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tASSIGNEE\tPROGRESS\tDUE")
	for _, t := range tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format(dateLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			t.ID, t.Title, t.Status, t.Priority, orDash(t.AssignedTo), t.Progress, due)
	}
	_ = w.Flush()
}

func printNotifications(items []model.Notification) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREAD\tTITLE\tMESSAGE\tAT")
	for _, n := range items {
		mark := " "
		if n.Read {
			mark = "x"
		}
		fmt.Fprintf(w, "%s\t[%s]\t%s\t%s\t%s\n", n.ID, mark, n.Title, n.Message, n.CreatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
