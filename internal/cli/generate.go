package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/generate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "generate <chat-id> [message]",
		Short: "Send a message and generate the character's reply",
		Long:  "Run one chat turn. Message can be positional args or piped via stdin. With --stream the reply is written to stdout as it arrives; interrupting keeps the partial reply.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runGenerate,
	}
	cmd.Flags().BoolP("stream", "s", false, "Stream the reply to stdout")

	RootCmd.AddCommand(cmd)
}

func runGenerate(cmd *cobra.Command, args []string) {
	stream, _ := cmd.Flags().GetBool("stream")
	content, err := readContent(args[1:])
	if err != nil {
		exitErr("generate", err)
	}

	a, err := newApp(cmd.Context(), modelRequired)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	req := generate.TurnRequest{ChatID: args[0], Content: content, Stream: stream}
	if stream {
		req.Sink = func(chunk string) error {
			_, err := fmt.Fprint(os.Stdout, chunk)
			return err
		}
	}

	res, err := a.turns.Generate(cmd.Context(), req)
	if errors.Is(err, context.Canceled) && res != nil {
		fmt.Fprintln(os.Stderr, "\ninterrupted; partial reply saved")
		return
	}
	if err != nil {
		a.Close()
		exitErr("generate", err)
	}

	if stream {
		fmt.Println()
		return
	}
	if textFormat() {
		fmt.Println(res.AssistantMessage.Content)
		return
	}
	printJSON(struct {
		UserMessage      any `json:"user_message"`
		AssistantMessage any `json:"assistant_message"`
		Activated        int `json:"activated"`
		PromptTokens     int `json:"prompt_tokens"`
	}{res.UserMessage, res.AssistantMessage, len(res.Activated), res.Prompt.TotalTokens})
}
