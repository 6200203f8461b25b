package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/model"
)

func init() {
	characterCmd := &cobra.Command{
		Use:   "character",
		Short: "Manage characters",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a character",
		Run:   runCharacterCreate,
	}
	create.Flags().String("name", "", "Character name (required)")
	create.Flags().String("description", "", "Description")
	create.Flags().String("personality", "", "Personality")
	create.Flags().String("scenario", "", "Scenario")
	create.Flags().String("system-prompt", "", "System prompt; may use {{char}} and {{user}}")
	create.Flags().String("example", "", "Example dialogue")
	create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List characters",
		Run:   runCharacterList,
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a character",
		Args:  cobra.ExactArgs(1),
		Run:   runCharacterGet,
	}

	characterCmd.AddCommand(create, list, get)
	RootCmd.AddCommand(characterCmd)
}

func runCharacterCreate(cmd *cobra.Command, args []string) {
	c := &model.Character{}
	c.Name, _ = cmd.Flags().GetString("name")
	c.Description, _ = cmd.Flags().GetString("description")
	c.Personality, _ = cmd.Flags().GetString("personality")
	c.Scenario, _ = cmd.Flags().GetString("scenario")
	c.SystemPrompt, _ = cmd.Flags().GetString("system-prompt")
	c.ExampleDialogue, _ = cmd.Flags().GetString("example")

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.CreateCharacter(cmd.Context(), c); err != nil {
		exitErr("create character", err)
	}
	printJSON(c)
}

func runCharacterList(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	chars, err := s.ListCharacters(cmd.Context())
	if err != nil {
		exitErr("list characters", err)
	}
	if textFormat() {
		for _, c := range chars {
			fmt.Printf("%s\t%s\n", c.ID, c.Name)
		}
		return
	}
	printJSON(chars)
}

func runCharacterGet(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	c, err := s.GetCharacter(cmd.Context(), args[0])
	if err != nil {
		exitErr("get character", err)
	}
	printJSON(c)
}
