package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/common"
	"github.com/suPer8Hu/cyberguard/internal/realtime"
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	red       = color.New(color.FgRed).SprintFunc()
	boldRed   = color.New(color.FgRed, color.Bold).SprintFunc()
)

// printer renders server events. It reports which job, if any, just finished.
type printer struct {
	out io.Writer
}

func (p printer) handle(env realtime.Envelope) (finishedJob string) {
	switch env.Type {
	case realtime.EventConnected:
		var c realtime.Connected
		if json.Unmarshal(env.Data, &c) == nil {
			name := c.User.FullName
			if name == "" {
				name = "guest"
			}
			fmt.Fprintf(p.out, "%s as %s\n", boldGreen(c.Message), boldCyan(name))
		}
	case realtime.EventAuthResult:
		var r realtime.AuthResult
		if json.Unmarshal(env.Data, &r) == nil && !r.Success {
			fmt.Fprintln(p.out, red("authentication failed: "+r.Error))
		}
	case realtime.EventAck:
		var a realtime.Ack
		if json.Unmarshal(env.Data, &a) == nil && !a.Accepted && a.Error != nil {
			fmt.Fprintln(p.out, red(a.Error.Code+": "+a.Error.Message))
			return a.JobID
		}
	case realtime.EventFragment:
		var f chat.FragmentEvent
		if json.Unmarshal(env.Data, &f) == nil {
			fmt.Fprint(p.out, f.Fragment)
		}
	case realtime.EventComplete:
		var c chat.CompleteEvent
		if json.Unmarshal(env.Data, &c) == nil {
			fmt.Fprintln(p.out)
			fmt.Fprintln(p.out)
			return c.JobID
		}
	case realtime.EventScamNotice:
		var n chat.ScamNoticeEvent
		if json.Unmarshal(env.Data, &n) == nil {
			fmt.Fprintln(p.out, boldRed(fmt.Sprintf("SCAM WARNING (confidence %.0f%%)", n.Confidence*100)))
			fmt.Fprintln(p.out, red(n.Message))
			fmt.Fprintln(p.out)
			return n.JobID
		}
	case realtime.EventError:
		var e chat.ErrorEvent
		if json.Unmarshal(env.Data, &e) == nil {
			fmt.Fprintln(p.out, red(fmt.Sprintf("\n[%s] %s", e.Code, e.Message)))
			return e.JobID
		}
	}
	return ""
}

func dialURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func envelope(eventType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(realtime.Envelope{Type: eventType, Data: data})
}

func runChat(cmd *cobra.Command, _ []string) error {
	target, err := dialURL(serverURL, token)
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", serverURL, err)
	}
	defer ws.Close()

	if sessionID == "" {
		if sessionID, err = common.NewULID(); err != nil {
			return err
		}
	}

	var wmu sync.Mutex
	send := func(eventType string, payload any) error {
		b, err := envelope(eventType, payload)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, b)
	}

	p := printer{out: os.Stdout}
	finished := make(chan string, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				close(finished)
				return
			}
			var env realtime.Envelope
			if json.Unmarshal(data, &env) != nil {
				continue
			}
			if job := p.handle(env); job != "" {
				finished <- job
			}
		}
	}()

	// Ctrl+C cancels the running job; a second one quits
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	fmt.Printf("Session %s. Type 'exit' to quit.\n\n", boldCyan(sessionID))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			return nil
		}

		jobID, err := common.NewULID()
		if err != nil {
			return err
		}
		if err := send(realtime.EventSendMessage, realtime.SendMessagePayload{
			JobID:     jobID,
			SessionID: sessionID,
			Content:   input,
			ModelID:   modelID,
		}); err != nil {
			return err
		}
		fmt.Print(boldCyan("CyberGuard: "))

		if err := waitJob(cmd.Context(), jobID, finished, readErr, sigs, send); err != nil {
			return err
		}
	}
}

func waitJob(ctx context.Context, jobID string, finished <-chan string, readErr <-chan error, sigs <-chan os.Signal, send func(string, any) error) error {
	canceled := false
	for {
		select {
		case job, ok := <-finished:
			if !ok {
				return <-readErr
			}
			if job == jobID {
				return nil
			}
		case <-sigs:
			if canceled {
				return context.Canceled
			}
			canceled = true
			if err := send(realtime.EventCancel, realtime.CancelPayload{JobID: jobID}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
