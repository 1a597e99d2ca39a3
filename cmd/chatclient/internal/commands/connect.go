package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/client"
	"github.com/Tyrowin/roomrelay/internal/logger"
	"github.com/Tyrowin/roomrelay/internal/protocol"
)

type ConnectCmd struct {
	URL    string  `help:"WebSocket URL of the relay" default:"ws://localhost:3001/ws" env:"ROOMRELAY_URL"`
	Server string  `help:"HTTP base URL used for history backfill" default:"http://localhost:3001" env:"ROOMRELAY_HTTP_URL"`
	Token  string  `help:"Auth token" required:"" env:"ROOMRELAY_TOKEN"`
	Room   []int64 `help:"Rooms to join on every connect" short:"r"`
	Origin string  `help:"Origin header sent with the handshake"`
}

func (c *ConnectCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Setup(globals.Debug)
	out := newPrinter(os.Stdout)
	state := newRoomState(c.Room)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	header := http.Header{}
	if c.Origin != "" {
		header.Set("Origin", c.Origin)
	}

	var chat *client.Client
	chat = client.New(c.URL,
		client.WithHeader(header),
		client.WithLogger(log),
		client.OnConnect(func(_ context.Context, cl *client.Client) error {
			if err := cl.Auth(c.Token); err != nil {
				return err
			}
			for _, roomID := range state.joined() {
				if err := cl.Join(roomID); err != nil {
					return err
				}
			}
			return nil
		}),
		client.OnFrame(func(env protocol.Envelope) {
			out.frame(env)
			if env.Type == protocol.TypeJoined {
				var f protocol.Joined
				if err := json.Unmarshal(env.Raw, &f); err == nil {
					go c.backfill(ctx, chat, httpClient, out, log, f.RoomID)
				}
			}
		}),
		client.OnMessage(out.message),
	)

	go func() {
		if err := readInput(os.Stdin, chat, state, out); err != nil {
			log.Debug().Err(err).Msg("Input closed")
		}
		_ = chat.Close()
	}()

	err := chat.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// backfill loads messages missed while the room was not joined. The reply
// to a join is read on the client's read loop, so it runs on its own
// goroutine.
func (c *ConnectCmd) backfill(ctx context.Context, chat *client.Client, httpClient *http.Client, out *printer, log zerolog.Logger, roomID int64) {
	added, err := chat.Backfill(ctx, httpClient, c.Server, c.Token, roomID)
	if err != nil {
		log.Warn().Err(err).Int64("room_id", roomID).Msg("History backfill failed")
		return
	}
	for _, m := range added {
		out.message(roomID, m)
	}
}

// roomState tracks the rooms to rejoin after a reconnect and the room that
// plain input lines are sent to.
type roomState struct {
	mu      sync.Mutex
	rooms   []int64
	current int64
}

func newRoomState(rooms []int64) *roomState {
	s := &roomState{}
	for _, roomID := range rooms {
		s.add(roomID)
	}
	return s
}

func (s *roomState) add(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.rooms, roomID) {
		s.rooms = append(s.rooms, roomID)
	}
	s.current = roomID
}

func (s *roomState) joined() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

func (s *roomState) switchTo(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.rooms, roomID) {
		return false
	}
	s.current = roomID
	return true
}

func (s *roomState) active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type inputKind int

const (
	inputText inputKind = iota
	inputJoin
	inputSwitch
	inputQuit
)

type input struct {
	kind   inputKind
	roomID int64
	text   string
}

var errUnknownCommand = errors.New("unknown command; use /join N, /room N or /quit")

func parseInput(line string) (input, error) {
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputText, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return input{kind: inputQuit}, nil
	case "/join", "/room":
		if len(fields) != 2 {
			return input{}, fmt.Errorf("%s needs a room id", fields[0])
		}
		roomID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || roomID <= 0 {
			return input{}, fmt.Errorf("invalid room id %q", fields[1])
		}
		kind := inputJoin
		if fields[0] == "/room" {
			kind = inputSwitch
		}
		return input{kind: kind, roomID: roomID}, nil
	default:
		return input{}, errUnknownCommand
	}
}

type sender interface {
	Join(roomID int64) error
	SendMessage(roomID int64, text string) error
}

// readInput executes input lines until EOF or /quit.
func readInput(r io.Reader, chat sender, state *roomState, out *printer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		in, err := parseInput(line)
		if err != nil {
			out.printf("! %v", err)
			continue
		}

		switch in.kind {
		case inputQuit:
			return nil
		case inputJoin:
			state.add(in.roomID)
			err = chat.Join(in.roomID)
		case inputSwitch:
			if !state.switchTo(in.roomID) {
				out.printf("! not in room %d; use /join first", in.roomID)
			}
		case inputText:
			roomID := state.active()
			if roomID == 0 {
				out.printf("! join a room first")
				continue
			}
			err = chat.SendMessage(roomID, in.text)
		}

		if err != nil {
			out.printf("! %v", err)
		}
	}
	return scanner.Err()
}
