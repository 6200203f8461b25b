package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

func init() {
	messageCmd := &cobra.Command{
		Use:   "message",
		Short: "Read or append chat messages without calling the model",
	}

	add := &cobra.Command{
		Use:   "add <chat-id> [content]",
		Short: "Append a message",
		Long:  "Append a message. Content can be positional args or piped via stdin.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runMessageAdd,
	}
	add.Flags().String("role", "user", "Role: user, assistant, system")

	list := &cobra.Command{
		Use:   "list <chat-id>",
		Short: "List messages, oldest first",
		Args:  cobra.ExactArgs(1),
		Run:   runMessageList,
	}
	list.Flags().Int("skip", 0, "Messages to skip")
	list.Flags().IntP("limit", "l", 0, "Max results (0 = all)")

	messageCmd.AddCommand(add, list)
	RootCmd.AddCommand(messageCmd)
}

func runMessageAdd(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	if !model.ValidRoles[model.Role(role)] {
		exitErr("add message", fmt.Errorf("invalid role %q", role))
	}
	content, err := readContent(args[1:])
	if err != nil {
		exitErr("add message", err)
	}
	if content == "" {
		exitErr("add message", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	m := &model.ChatMessage{ChatID: args[0], Role: model.Role(role), Content: content}
	if err := s.AppendMessage(cmd.Context(), m); err != nil {
		exitErr("add message", err)
	}
	printJSON(m)
}

func runMessageList(cmd *cobra.Command, args []string) {
	skip, _ := cmd.Flags().GetInt("skip")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	msgs, err := s.ListMessages(cmd.Context(), args[0], skip, limit)
	if err != nil {
		exitErr("list messages", err)
	}
	if textFormat() {
		for i, m := range msgs {
			fmt.Printf("%d\t%s\t%s\n", skip+i+1, m.Role, m.Content)
		}
		return
	}
	printJSON(msgs)
}
