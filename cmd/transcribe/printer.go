package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/lexiqai/scribe-gateway/internal/session"
)

// printer renders session messages for a terminal
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	turns int
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Send(msg session.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	switch msg.Type {
	case session.MsgConnected:
		_, err = fmt.Fprintf(p.out, "Session %s (%s)\n", msg.SessionID, msg.Language)
	case session.MsgPartial:
		_, err = fmt.Fprintf(p.out, "\r\033[K... %s", msg.Text)
	case session.MsgFinal:
		p.turns++
		duration := 0.0
		if msg.StartTime != nil && msg.EndTime != nil {
			duration = *msg.EndTime - *msg.StartTime
		}
		_, err = fmt.Fprintf(p.out, "\r\033[KTurn %d [%s/%s]: %s (%.2fs)\n",
			p.turns, msg.Speaker, msg.SpeakerRole, msg.Text, duration)
	case session.MsgFormUpdate:
		var data []byte
		if data, err = sonic.Marshal(msg.Data); err == nil {
			_, err = fmt.Fprintf(p.out, "Form: %s\n", data)
		}
	case session.MsgError:
		_, err = fmt.Fprintf(p.out, "Error: %s\n", msg.Message)
	}
	return err
}
