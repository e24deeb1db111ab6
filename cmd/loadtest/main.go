// Command loadtest drives a running server over the real wire protocol:
// pairs of users sign up, become friends, open a chat and spam messages,
// while the tool counts the notifications delivered back.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

var (
	wsURL    = flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("messages", 20, "messages per user")
)

var delivered atomic.Int64

func main() {
	flag.Parse()
	log.Printf("starting load test: %d pairs, %d messages each", *pairs, *msgCount)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID); err != nil {
				log.Printf("pair %d: %v", pairID, err)
			}
		}(i)
	}
	wg.Wait()

	log.Printf("done in %s, %d notifications delivered", time.Since(start), delivered.Load())
}

func runPair(pairID int) error {
	a, err := dial()
	if err != nil {
		return err
	}
	defer a.close()
	b, err := dial()
	if err != nil {
		return err
	}
	defer b.close()

	run := uuid.NewString()[:8]
	userA, err := a.signUp(fmt.Sprintf("u_%s_%d_a", run, pairID))
	if err != nil {
		return fmt.Errorf("signup a: %w", err)
	}
	userB, err := b.signUp(fmt.Sprintf("u_%s_%d_b", run, pairID))
	if err != nil {
		return fmt.Errorf("signup b: %w", err)
	}

	// A requests, B accepts.
	req := proto.NewNotification(proto.NoteFriendReq)
	req.From, req.To = userA.ID, userB.ID
	if err := a.notify(req); err != nil {
		return fmt.Errorf("friend request: %w", err)
	}
	accept := proto.NewNotification(proto.NoteFriendOK)
	accept.From, accept.To = userB.ID, userA.ID
	if err := b.notify(accept); err != nil {
		return fmt.Errorf("friend accept: %w", err)
	}

	// A opens the chat.
	chat := proto.Chat{ID: uuid.New(), Tag: "loadtest", Members: []uuid.UUID{userA.ID, userB.ID}}
	newChat := proto.NewNotification(proto.NoteNewChat)
	newChat.Chat = &chat
	if err := a.notify(newChat); err != nil {
		return fmt.Errorf("new chat: %w", err)
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, a, userA.ID, chat.ID)
	go spamChat(&wsWg, b, userB.ID, chat.ID)
	wsWg.Wait()
	return nil
}

func spamChat(wg *sync.WaitGroup, c *client, sender, chatID uuid.UUID) {
	defer wg.Done()
	for i := 0; i < *msgCount; i++ {
		n := proto.NewNotification(proto.NoteNewMessage)
		n.ChatID = chatID
		n.Message = &proto.Message{
			ID:       uuid.New(),
			ChatID:   chatID,
			SenderID: sender,
			Content:  fmt.Sprintf("hello %d", i),
		}
		if err := c.notify(n); err != nil {
			log.Printf("send message: %v", err)
			return
		}
	}
}

// client is a minimal protocol client: it sends requests, acknowledges
// pushes, and matches responses by correlation id.
type client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[uuid.UUID]chan proto.Envelope
}

func dial() (*client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", *wsURL, err)
	}
	c := &client{conn: conn, pending: make(map[uuid.UUID]chan proto.Envelope)}
	go c.readLoop()
	return c, nil
}

func (c *client) close() { c.conn.Close() }

func (c *client) readLoop() {
	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		env, err := proto.Decode(frame)
		if err != nil {
			continue
		}

		if env.Kind == proto.KindResponse {
			c.mu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- env
			}
			continue
		}

		// A server push: count it and acknowledge so the server stops
		// retrying it.
		if env.Kind == proto.KindNotification || env.Kind == proto.KindSession {
			delivered.Add(1)
		}
		ack := proto.Envelope{ID: env.ID, Kind: proto.KindResponse,
			Response: &proto.Response{Status: proto.StatusOK}}
		c.write(ack)
	}
}

func (c *client) write(env proto.Envelope) error {
	frame, err := proto.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// request sends an envelope and waits for its response.
func (c *client) request(env proto.Envelope) (proto.Envelope, error) {
	ch := make(chan proto.Envelope, 1)
	c.mu.Lock()
	c.pending[env.ID] = ch
	c.mu.Unlock()

	if err := c.write(env); err != nil {
		return proto.Envelope{}, err
	}
	select {
	case resp := <-ch:
		if resp.Response.Status == proto.StatusErr {
			return resp, fmt.Errorf("server error: %s", resp.Response.Error)
		}
		return resp, nil
	case <-time.After(10 * time.Second):
		return proto.Envelope{}, fmt.Errorf("timed out waiting for response")
	}
}

func (c *client) signUp(tag string) (proto.User, error) {
	env := proto.NewEnvelope(proto.KindSession)
	env.Session = &proto.Session{
		Action: proto.SessionSignUp,
		Credentials: &proto.Credentials{
			Tag:      tag,
			Email:    tag + "@loadtest.local",
			Password: "password123",
		},
	}
	resp, err := c.request(env)
	if err != nil {
		return proto.User{}, err
	}
	if resp.Response.Session == nil || resp.Response.Session.User == nil {
		return proto.User{}, fmt.Errorf("signup response missing profile")
	}
	return *resp.Response.Session.User, nil
}

func (c *client) notify(n proto.Notification) error {
	env := proto.NewEnvelope(proto.KindNotification)
	env.Notification = &n
	_, err := c.request(env)
	return err
}
