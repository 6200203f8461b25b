package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miounet11/mySillyTavern-sub001/internal/embedding"
	"github.com/miounet11/mySillyTavern-sub001/internal/lorebook"
	"github.com/miounet11/mySillyTavern-sub001/internal/model"
	"github.com/miounet11/mySillyTavern-sub001/internal/store"
)

func init() {
	loreCmd := &cobra.Command{
		Use:   "lore",
		Short: "Manage world info entries",
	}

	put := &cobra.Command{
		Use:   "put [content]",
		Short: "Create or replace a lore entry",
		Long:  "Create or replace a lore entry. Content can be a positional arg or piped via stdin.",
		Run:   runLorePut,
	}
	put.Flags().String("id", "", "Entry id (default: generated)")
	put.Flags().String("character", "", "Character id (empty = global)")
	put.Flags().StringP("keywords", "k", "", "Comma-separated keywords (required)")
	put.Flags().IntP("priority", "p", lorebook.DefaultPriority, "Priority 0-100")
	put.Flags().String("position", "before_history", "Position: before_history, at_depth, before_message")
	put.Flags().Int("depth", 0, "Depth for at_depth entries")
	put.Flags().String("category", "", "Category")
	put.Flags().Bool("case-sensitive", false, "Match keywords case-sensitively")
	put.Flags().Bool("whole-words", false, "Match keywords on word boundaries")
	put.Flags().Bool("disabled", false, "Store the entry disabled")
	put.MarkFlagRequired("keywords")

	list := &cobra.Command{
		Use:   "list",
		Short: "List lore for a character, including global entries",
		Run:   runLoreList,
	}
	list.Flags().String("character", "", "Character id (empty = global only)")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a lore entry",
		Args:  cobra.ExactArgs(1),
		Run:   runLoreRm,
	}

	imp := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a YAML or markdown lorebook (file or stdin)",
		Long: "Import a lorebook. Files ending in .md are markdown: each heading is a comma-separated " +
			"keyword list and the text under it becomes the entry. Anything else, including stdin, is YAML.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runLoreImport,
	}
	imp.Flags().String("character", "", "Assign every entry to this character")

	embed := &cobra.Command{
		Use:   "embed",
		Short: "Compute missing lore embeddings",
		Run:   runLoreEmbed,
	}
	embed.Flags().String("character", "", "Character id (empty = global only)")
	embed.Flags().Bool("all", false, "Recompute existing embeddings too")

	loreCmd.AddCommand(put, list, rm, imp, embed)
	RootCmd.AddCommand(loreCmd)
}

func runLorePut(cmd *cobra.Command, args []string) {
	content, err := readContent(args)
	if err != nil {
		exitErr("put lore", err)
	}
	e := model.LoreEntry{Content: content, Enabled: true}
	e.ID, _ = cmd.Flags().GetString("id")
	e.CharacterID, _ = cmd.Flags().GetString("character")
	kw, _ := cmd.Flags().GetString("keywords")
	e.Keywords = lorebook.SplitKeywords(kw)
	e.Priority, _ = cmd.Flags().GetInt("priority")
	pos, _ := cmd.Flags().GetString("position")
	e.Position = model.ParsePosition(pos)
	e.Depth, _ = cmd.Flags().GetInt("depth")
	e.Category, _ = cmd.Flags().GetString("category")
	e.CaseSensitive, _ = cmd.Flags().GetBool("case-sensitive")
	e.MatchWholeWords, _ = cmd.Flags().GetBool("whole-words")
	if disabled, _ := cmd.Flags().GetBool("disabled"); disabled {
		e.Enabled = false
	}
	if e.ID == "" {
		e.ID = store.NewID()
	}
	if err := lorebook.Validate(e); err != nil {
		exitErr("put lore", err)
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.PutLoreEntry(cmd.Context(), &e); err != nil {
		exitErr("put lore", err)
	}
	printJSON(e)
}

func runLoreList(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	recs, err := s.ListLore(cmd.Context(), characterID)
	if err != nil {
		exitErr("list lore", err)
	}
	if textFormat() {
		for _, r := range recs {
			fmt.Printf("%s\t%d\t%s\t%v\n", r.Entry.ID, r.Entry.Priority, r.Entry.Position, r.Entry.Keywords)
		}
		return
	}
	type row struct {
		model.LoreEntry
		Embedded bool `json:"embedded"`
	}
	out := make([]row, 0, len(recs))
	for _, r := range recs {
		out = append(out, row{LoreEntry: r.Entry, Embedded: r.Embedding != nil})
	}
	printJSON(out)
}

func runLoreRm(cmd *cobra.Command, args []string) {
	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.DeleteLoreEntry(cmd.Context(), args[0]); err != nil {
		exitErr("rm lore", err)
	}
	fmt.Printf(`{"ok":true,"deleted":%q}`+"\n", args[0])
}

func runLoreImport(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")

	var (
		name string
		data []byte
		err  error
	)
	if len(args) == 1 {
		name = args[0]
		data, err = os.ReadFile(name)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read lorebook", err)
	}
	entries, err := lorebook.Parse(name, data, characterID)
	if err != nil {
		exitErr("import lore", err)
	}

	s, err := openStore(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	for i := range entries {
		if err := s.PutLoreEntry(cmd.Context(), &entries[i]); err != nil {
			exitErr("import lore", err)
		}
	}
	log.Info("lorebook imported", zap.Int("entries", len(entries)), zap.String("character_id", characterID))
	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", len(entries))
}

func runLoreEmbed(cmd *cobra.Command, args []string) {
	characterID, _ := cmd.Flags().GetString("character")
	all, _ := cmd.Flags().GetBool("all")
	ctx := cmd.Context()

	embedder, err := embedding.New(ctx, cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.URL, cfg.Embedding.APIKey)
	if err != nil {
		exitErr("embedder", err)
	}
	if embedder == nil {
		exitErr("embed lore", fmt.Errorf("no embedding provider configured (embedding.provider)"))
	}

	s, err := openStore(ctx)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	recs, err := s.ListLore(ctx, characterID)
	if err != nil {
		exitErr("list lore", err)
	}
	embedded, failed := 0, 0
	for _, r := range recs {
		if r.Embedding != nil && !all {
			continue
		}
		v, err := embedder.Embed(ctx, r.Entry.Content)
		if err == nil {
			err = s.SetLoreEmbedding(ctx, r.Entry.ID, v)
		}
		if err != nil {
			failed++
			log.Warn("embedding lore entry failed", zap.String("entry_id", r.Entry.ID), zap.Error(err))
			continue
		}
		embedded++
	}
	fmt.Printf(`{"ok":true,"embedded":%d,"failed":%d}`+"\n", embedded, failed)
}
