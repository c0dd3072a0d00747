// Command client is a terminal chat client for manual testing against a
// gateway running with DEV_LOGIN=true.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/presence-chat/pkg/api"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/typing"
)

func login(addr, userID, role, name string) (string, error) {
	reqBody, err := json.Marshal(api.LoginRequest{UserID: model.UserID(userID), Role: model.Role(role), Name: name})
	if err != nil {
		return "", err
	}
	resp, err := http.Post("http://"+addr+"/login", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", strings.TrimSpace(string(body)))
	}

	var loginResp api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

type client struct {
	conn   *websocket.Conn
	writeM sync.Mutex
	peer   model.UserID
}

func (c *client) emit(t model.EventType, payload any) error {
	frame, err := model.NewFrame(t, payload)
	if err != nil {
		return err
	}
	frame.RequestID = uuid.NewString()
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func prompt(format string, args ...any) {
	fmt.Printf("\r"+format+"\n> ", args...)
}

func render(frame model.Frame, tracker *typing.Tracker) {
	switch frame.Type {
	case model.EventReceive:
		var p model.ReceivePayload
		if frame.Decode(&p) == nil {
			tracker.Stop(p.Message.SenderID)
			prompt("%s: %s", p.Message.SenderID, p.Message.Body)
		}
	case model.EventSent:
		var p model.SentPayload
		if frame.Decode(&p) == nil {
			prompt("  (to %s, id %s)", p.Message.ReceiverID, p.Message.ID)
		}
	case model.EventMessagesRead:
		var p model.MessagesReadPayload
		if frame.Decode(&p) == nil {
			prompt("  %s read %d message(s)", p.ReaderID, p.Count)
		}
	case model.EventTyping, model.EventStopTyping:
		_ = tracker.HandleFrame(frame)
	case model.EventUserOnline, model.EventUserOffline:
		var p model.UserPayload
		if frame.Decode(&p) == nil {
			prompt("* %s is %s", p.UserID, strings.TrimPrefix(string(frame.Type), "user:"))
		}
	case model.EventPresenceSnapshot:
		var p model.PresenceSnapshotPayload
		if frame.Decode(&p) == nil {
			prompt("* online: %v", p.Online)
		}
	case model.EventError:
		var p model.ErrorPayload
		if frame.Decode(&p) == nil {
			prompt("! %s: %s", p.Code, p.Message)
		}
	default:
		prompt("[%s] %s", frame.Type, frame.Payload)
	}
}

func (c *client) command(line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/to":
		c.peer = model.UserID(arg)
		prompt("* talking to %s", c.peer)
		return nil
	case "/typing":
		return c.emit(model.EventTypingStart, model.TypingPayload{ReceiverID: c.peer})
	case "/read":
		sender := c.peer
		if arg != "" {
			sender = model.UserID(arg)
		}
		return c.emit(model.EventRead, model.ReadPayload{SenderID: sender})
	case "/who":
		var ids []model.UserID
		for _, id := range strings.Fields(arg) {
			ids = append(ids, model.UserID(id))
		}
		return c.emit(model.EventSubscribePresence, model.SubscribePresencePayload{UserIDs: ids})
	}
	if c.peer == "" {
		prompt("! pick a peer with /to <user>")
		return nil
	}
	return c.emit(model.EventSend, model.SendPayload{ReceiverID: c.peer, Body: line})
}

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "customer", "customer, provider or admin")
	name := flag.String("name", "", "display name")
	peer := flag.String("to", "", "initial peer")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	token, err := login(*addr, *userID, *role, *name)
	if err != nil {
		log.Error("Login failed", "error", err)
		os.Exit(1)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Error("Dial failed", "url", u.String(), "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{conn: conn, peer: model.UserID(*peer)}
	tracker := typing.NewTracker(typing.DefaultTTL, func(user model.UserID, name string, active bool) {
		if active {
			prompt("  %s is typing...", name)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Info("Connection closed", "error", err)
				return
			}
			var frame model.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				prompt("raw: %s", data)
				continue
			}
			render(frame, tracker)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if line == "/quit" {
				interrupt <- os.Interrupt
				return
			}
			if err := c.command(line); err != nil {
				log.Error("Write failed", "error", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		c.writeM.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeM.Unlock()
		if err != nil {
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
