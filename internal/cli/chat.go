package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

func init() {
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Manage chats",
	}

	create := &cobra.Command{
		Use:   "new",
		Short: "Start a chat with a character",
		Run:   runChatNew,
	}
	create.Flags().String("character", "", "Character id (required)")
	create.Flags().String("title", "", "Chat title")
	create.MarkFlagRequired("character")

	show := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Show a chat with its message count",
		Args:  cobra.ExactArgs(1),
		Run:   runChatShow,
	}

	export := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat's messages and summaries as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runChatExport,
	}

	chatCmd.AddCommand(create, show, export)
	RootCmd.AddCommand(chatCmd)
}

func runChatNew(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")
	title, _ := cmd.Flags().GetString("title")

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	chat := &model.Chat{CharacterID: characterID, Title: title}
	if err := s.CreateChat(cmd.Context(), chat); err != nil {
		exitErr("create chat", err)
	}
	printJSON(chat)
}

func runChatShow(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	chat, err := s.GetChat(cmd.Context(), args[0])
	if err != nil {
		exitErr("get chat", err)
	}
	n, err := s.CountMessages(cmd.Context(), chat.ID)
	if err != nil {
		exitErr("count messages", err)
	}
	if textFormat() {
		fmt.Printf("%s\t%s\t%d messages\n", chat.ID, chat.CharacterID, n)
		return
	}
	printJSON(struct {
		*model.Chat
		Messages int `json:"messages"`
	}{chat, n})
}

type chatExport struct {
	Chat      *model.Chat         `json:"chat"`
	Messages  []model.ChatMessage `json:"messages"`
	Summaries []model.ChatSummary `json:"summaries"`
}

func runChatExport(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	chat, err := s.GetChat(ctx, args[0])
	if err != nil {
		exitErr("get chat", err)
	}
	msgs, err := s.ListMessages(ctx, chat.ID, 0, 0)
	if err != nil {
		exitErr("list messages", err)
	}
	sums, err := s.ListSummaries(ctx, chat.ID)
	if err != nil {
		exitErr("list summaries", err)
	}
	printJSON(chatExport{Chat: chat, Messages: msgs, Summaries: sums})
}
