package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tasksync/internal/model"
	"tasksync/internal/reconcile"
)

func watchCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every change until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := e.identity(ctx)
			if err != nil {
				return err
			}
			c, err := e.client(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			stamp := func() string { return time.Now().Format(time.TimeOnly) }
			cancelTasks := c.Cache().Tasks.Subscribe(func(tasks []model.Task) {
				fmt.Printf("%s tasks: %d\n", stamp(), len(tasks))
			})
			defer cancelTasks()
			cancelNotes := c.Cache().Notifications.Subscribe(func(items []model.Notification) {
				unread := 0
				for _, n := range items {
					if !n.Read {
						unread++
					}
				}
				fmt.Printf("%s notifications: %d (%d unread)\n", stamp(), len(items), unread)
			})
			defer cancelNotes()

			if err := c.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("Watching as %s (%s), device %s. Ctrl-C to stop.\n", actor.Name, actor.Role, c.Channel().Device())

			status := time.NewTicker(30 * time.Second)
			defer status.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case n := <-c.Notices():
					fmt.Printf("%s ! %s: %s\n", stamp(), n.Op, n.Message)
				case <-status.C:
					for _, coll := range model.Collections {
						if st := c.Reconciler().State(coll); st == reconcile.StateDegraded {
							fmt.Printf("%s %s is degraded, showing cached data\n", stamp(), coll)
						}
					}
					if c.Channel().Degraded() {
						fmt.Printf("%s cross-device channel degraded\n", stamp())
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&e.offline, "offline", false,
		"Watch an empty in-memory record store instead of PostgreSQL; nothing is kept after exit")
	return cmd
}
