package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

const timeLayout = "15:04:05"

// printer renders frames as lines of text. Callbacks arrive from the read
// loop and from backfills, so writes are serialized.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) message(roomID int64, m protocol.ChatMessage) {
	p.printf("[%d] %s <%s> %s", roomID, m.CreatedAt.Local().Format(timeLayout), m.UserName, m.Message)
}

func (p *printer) frame(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAuthenticated:
		var f protocol.Authenticated
		if json.Unmarshal(env.Raw, &f) == nil {
			p.printf("* signed in as %s", f.User.Name)
		}
	case protocol.TypeJoined:
		var f protocol.Joined
		if json.Unmarshal(env.Raw, &f) == nil {
			p.printf("* joined room %d", f.RoomID)
		}
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		var f protocol.Presence
		if json.Unmarshal(env.Raw, &f) == nil {
			verb := "joined"
			if env.Type == protocol.TypeUserLeft {
				verb = "left"
			}
			p.printf("[%d] * %s %s", f.RoomID, f.User.Name, verb)
		}
	case protocol.TypeTyping:
		var f protocol.TypingEvent
		if json.Unmarshal(env.Raw, &f) == nil && f.IsTyping {
			p.printf("[%d] * %s is typing", f.RoomID, f.User.Name)
		}
	case protocol.TypeError:
		var f protocol.Error
		if json.Unmarshal(env.Raw, &f) == nil {
			p.printf("! %s", f.Message)
		}
	}
}
