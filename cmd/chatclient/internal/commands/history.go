package commands

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/Tyrowin/roomrelay/internal/client"
)

type HistoryCmd struct {
	Server string `help:"HTTP base URL of the relay" default:"http://localhost:3001" env:"ROOMRELAY_HTTP_URL"`
	Token  string `help:"Auth token" required:"" env:"ROOMRELAY_TOKEN"`
	Room   int64  `help:"Room to read" required:""`
	Limit  int    `help:"Number of messages, capped by the server" default:"50"`
}

func (h *HistoryCmd) Run(ctx context.Context) error {
	httpClient := &http.Client{Timeout: 15 * time.Second}

	messages, err := client.FetchHistory(ctx, httpClient, h.Server, h.Token, h.Room, h.Limit)
	if err != nil {
		return err
	}

	p := newPrinter(os.Stdout)
	for _, m := range messages {
		p.message(h.Room, m)
	}
	return nil
}
