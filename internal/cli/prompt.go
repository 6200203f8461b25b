package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prompt <chat-id> [message]",
		Short: "Preview the assembled prompt for a message",
		Long:  "Assemble the prompt the model would receive, without calling it or saving anything. Message can be positional args or piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPrompt,
	}

	RootCmd.AddCommand(cmd)
}

func runPrompt(cmd *cobra.Command, args []string) {
	content, err := readContent(args[1:])
	if err != nil {
		exitErr("prompt", err)
	}

	a, err := newApp(cmd.Context(), modelNone)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	prep, err := a.turns.Preview(cmd.Context(), args[0], content)
	if err != nil {
		exitErr("prompt", err)
	}

	if textFormat() {
		for _, m := range prep.Prompt.Messages {
			fmt.Printf("--- %s (%s)\n%s\n", m.Role, m.Source, m.Content)
		}
		fmt.Printf("--- %d tokens, %d lore entries, %d history dropped\n",
			prep.Prompt.TotalTokens, len(prep.Activated), prep.Prompt.DroppedHistory)
		return
	}
	printJSON(prep)
}
