// Command chatclient is a terminal client for a roomrelay server.
package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/Tyrowin/roomrelay/cmd/chatclient/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Connect commands.ConnectCmd `cmd:"" help:"Connect to a relay and chat from the terminal"`
		History commands.HistoryCmd `cmd:"" help:"Print recent messages of a room"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("chatclient"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
