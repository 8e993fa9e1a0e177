package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/normanking/lumi/internal/store"
	"github.com/normanking/lumi/internal/summary"
	"github.com/spf13/cobra"
)

var (
	historyUser  string
	historyLimit int
	historyFull  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(logs.Zerolog(), cfg.Store.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		user := historyUser
		if user == "" {
			user = cfg.User.ID
		}
		list, err := db.ListConversations(context.Background(), user, historyLimit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println(dimStyle.Render("No conversations yet for " + user))
			return nil
		}

		for _, c := range list {
			fmt.Println(titleStyle.Render(c.CreatedAt.Local().Format("Mon Jan 2 15:04")) +
				dimStyle.Render(fmt.Sprintf("  %s  %s", c.Duration, c.ID)))
			if c.SessionSummary != "" {
				fmt.Println("  " + c.SessionSummary)
			}
			if historyFull {
				for _, line := range strings.Split(c.Transcript, "\n") {
					fmt.Println(dimStyle.Render("  " + line))
				}
			} else if c.LumiQuestion != "" {
				fmt.Println(lumiStyle.Render("  Lumi asked: ") + c.LumiQuestion)
			}
			fmt.Println()
		}
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize stored conversations that have no summary yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(logs.Zerolog(), cfg.Store.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		sched, err := summary.NewScheduler(logs.Zerolog(), summary.Config{
			Schedule:  cfg.Summary.Schedule,
			BatchSize: cfg.Summary.BatchSize,
		}, db, newServices(cfg).generator)
		if err != nil {
			return err
		}
		res, err := sched.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Summarized %d conversation(s)", res.Summarized)
		if res.Failed > 0 {
			fmt.Println(successStyle.Render(msg) + errorStyle.Render(fmt.Sprintf(", %d failed", res.Failed)))
			return nil
		}
		fmt.Println(successStyle.Render(msg))
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "user id (default: user.id from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum conversations to show")
	historyCmd.Flags().BoolVar(&historyFull, "full", false, "print full transcripts")
}
