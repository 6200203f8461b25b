package cli

import (
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/miounet11/mySillyTavern-sub001/internal/mcpserver"
	"github.com/miounet11/mySillyTavern-sub001/internal/worldinfo"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	a, err := newApp(ctx, modelNone)
	if err != nil {
		exitErr("setup", err)
	}
	defer a.Close()

	server := mcpserver.NewServer(a.store, a.turns, worldinfo.NewEngine(a.embedder, log), mcpserver.Options{
		Budget:     cfg.Budget(),
		Activation: cfg.ActivationOptions(),
	}, Version, log)
	if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		a.Close()
		exitErr("serve", err)
	}
}
