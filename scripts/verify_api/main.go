// Command verify_api smoke-tests a running gateway (DEV_LOGIN=true): it logs
// in two users, exchanges a message over the live channel and checks the REST
// reconciliation surface sees it.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/presence-chat/pkg/api"
	"github.com/mahaj/presence-chat/pkg/model"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway address")
	flag.Parse()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := verify(log, *addr); err != nil {
		log.Error("Verification failed", "error", err)
		os.Exit(1)
	}
	log.Info("Gateway OK")
}

func verify(log *slog.Logger, addr string) error {
	base := "http://" + addr
	sender := model.UserID(fmt.Sprintf("verify-a-%d", time.Now().Unix()))
	receiver := model.UserID(fmt.Sprintf("verify-b-%d", time.Now().Unix()))

	senderToken, err := login(base, sender)
	if err != nil {
		return err
	}
	receiverToken, err := login(base, receiver)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Add("Authorization", "Bearer "+senderToken)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	frame, err := model.NewFrame(model.EventSend, model.SendPayload{ReceiverID: receiver, Body: "verify"})
	if err != nil {
		return err
	}
	frame.RequestID = "verify-1"
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var reply model.Frame
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("await sent: %w", err)
		}
		if reply.Type == model.EventError {
			return fmt.Errorf("send rejected: %s", reply.Payload)
		}
		if reply.Type == model.EventSent {
			log.Info("Message stored", "payload", string(reply.Payload))
			break
		}
	}

	var conversations []model.ConversationSummary
	if err := get(base+"/conversations", receiverToken, &conversations); err != nil {
		return err
	}
	if len(conversations) != 1 || conversations[0].UnreadCount != 1 {
		return fmt.Errorf("expected one unread conversation, got %+v", conversations)
	}

	var history []model.Message
	if err := get(base+"/history?with="+string(sender), receiverToken, &history); err != nil {
		return err
	}
	log.Info("History", "messages", len(history))
	return nil
}

func login(base string, user model.UserID) (string, error) {
	reqBody, err := json.Marshal(api.LoginRequest{UserID: user})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(base+"/login", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login %s: %s: %s", user, resp.Status, body)
	}
	var loginResp api.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func get(url, token string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s: %s", url, resp.Status, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
