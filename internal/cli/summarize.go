package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/summary"
)

func init() {
	summarize := &cobra.Command{
		Use:   "summarize <chat-id>",
		Short: "Summarize pending messages of a chat",
		Long:  "Store one summary per full interval of unsummarized messages. Uses the model when an API key is configured, otherwise a statistical summary.",
		Args:  cobra.ExactArgs(1),
		Run:   runSummarize,
	}
	summarize.Flags().IntP("interval", "i", 0, "Messages per summary (default: summary.interval)")
	summarize.Flags().Bool("offline", false, "Skip the model and use the statistical summary")

	summaries := &cobra.Command{
		Use:   "summaries <chat-id>",
		Short: "Show stored summaries",
		Args:  cobra.ExactArgs(1),
		Run:   runSummaries,
	}
	summaries.Flags().Int("from", 0, "First message ordinal")
	summaries.Flags().Int("to", 0, "Last message ordinal")

	RootCmd.AddCommand(summarize, summaries)
}

func runSummarize(cmd *cobra.Command, args []string) {
	interval, _ := cmd.Flags().GetInt("interval")
	offline, _ := cmd.Flags().GetBool("offline")
	if interval == 0 {
		interval = cfg.Summary.Interval
	}

	use := modelOptional
	if offline {
		use = modelNone
	}
	a, err := newApp(cmd.Context(), use)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	before, err := a.store.ListSummaries(ctx, args[0])
	if err != nil {
		exitErr("summarize", err)
	}
	// Each call stores at most one summary; repeat until caught up.
	for {
		n := len(before)
		if err := a.summaries.AutoSummarize(ctx, args[0], interval); err != nil {
			exitErr("summarize", err)
		}
		before, err = a.store.ListSummaries(ctx, args[0])
		if err != nil {
			exitErr("summarize", err)
		}
		if len(before) == n {
			break
		}
	}
	printJSON(before)
}

func runSummaries(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	svc := summary.NewService(s, nil, log)
	var text string
	if to > 0 {
		text, _, err = svc.SummaryForRange(cmd.Context(), args[0], max(from, 1), to)
	} else {
		text, err = svc.AllSummaries(cmd.Context(), args[0])
	}
	if err != nil {
		exitErr("summaries", err)
	}
	if textFormat() {
		fmt.Println(text)
		return
	}
	all, err := s.ListSummaries(cmd.Context(), args[0])
	if err != nil {
		exitErr("summaries", err)
	}
	if to > 0 {
		all = model.SummariesInRange(all, max(from, 1), to)
	}
	printJSON(all)
}
