package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/auth"
	"github.com/Sarevi/farmafollow-sub000/internal/event"
	"github.com/Sarevi/farmafollow-sub000/internal/model"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[string]model.Conversation
	lastMessages  map[string]model.LastMessage
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		conversations: make(map[string]model.Conversation),
		lastMessages:  make(map[string]model.LastMessage),
	}
}

func (f *fakeConversationStore) add(participants ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := model.Conversation{
		ID:             primitive.NewObjectID(),
		ParticipantIDs: participants,
	}
	f.conversations[c.ID.Hex()] = c
	return c.ID.Hex()
}

func (f *fakeConversationStore) GetByID(_ context.Context, conversationID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeConversationStore) SetLastMessage(_ context.Context, conversationID string, lm model.LastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMessages[conversationID] = lm
	return nil
}

type readCall struct {
	conversationID string
	messageIDs     []string
	userID         string
}

// fakeMessageStore mirrors the $addToSet contract of the real store: read
// receipts are sets, and the modified count reflects actual additions only.
type fakeMessageStore struct {
	mu       sync.Mutex
	inserted []model.Message
	reads    []readCall
	readBy   map[string]map[string]struct{} // messageID -> readers
	modified []int64                        // per-call modified counts
}

func (f *fakeMessageStore) InsertMessage(_ context.Context, msg *model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.ID = primitive.NewObjectID()
	f.inserted = append(f.inserted, *msg)
	return msg.ID.Hex(), nil
}

func (f *fakeMessageStore) MarkRead(_ context.Context, conversationID string, messageIDs []string, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readBy == nil {
		f.readBy = make(map[string]map[string]struct{})
	}
	var modified int64
	for _, id := range messageIDs {
		set, ok := f.readBy[id]
		if !ok {
			set = make(map[string]struct{})
			f.readBy[id] = set
		}
		if _, seen := set[userID]; !seen {
			set[userID] = struct{}{}
			modified++
		}
	}

	f.reads = append(f.reads, readCall{conversationID, messageIDs, userID})
	f.modified = append(f.modified, modified)
	return modified, nil
}

func (f *fakeMessageStore) readers(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	users := make([]string, 0, len(f.readBy[messageID]))
	for u := range f.readBy[messageID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (f *fakeMessageStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeUserStore struct{}

func (fakeUserStore) GetByUserID(_ context.Context, userID string) (*model.User, error) {
	return &model.User{UserID: userID, Name: "Name of " + userID}, nil
}

type testRelay struct {
	hub           *Hub
	server        *httptest.Server
	tokens        *auth.TokenManager
	conversations *fakeConversationStore
	messages      *fakeMessageStore
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	conversations := newFakeConversationStore()
	return newTestRelayWith(t, conversations, conversations)
}

// newTestRelayWith lets a test wrap the conversation store (lookup) while
// still seeding conversations through the underlying fake.
func newTestRelayWith(t *testing.T, lookup ConversationStore, conversations *fakeConversationStore) *testRelay {
	t.Helper()

	tokens := auth.NewTokenManager("hub-test-secret", time.Hour)
	messages := &fakeMessageStore{}

	h := NewHub(NewRegistry(), lookup, messages, fakeUserStore{}, tokens, zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))

	t.Cleanup(func() {
		server.Close()
		h.Stop()
	})

	return &testRelay{
		hub:           h,
		server:        server,
		tokens:        tokens,
		conversations: conversations,
		messages:      messages,
	}
}

func (r *testRelay) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	token, err := r.tokens.Issue(userID, "patient")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial relay: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, name string, payload interface{}) {
	t.Helper()
	if err := conn.WriteJSON(event.NewEvent(name, payload)); err != nil {
		t.Fatalf("failed to send %s: %v", name, err)
	}
}

// waitForEvent reads frames until one of the wanted type arrives, skipping
// interleaved presence broadcasts.
func waitForEvent(t *testing.T, conn *websocket.Conn, name string) event.WsEvent {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev event.WsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if ev.Event == name {
			return ev
		}
	}
}

// countEvents reads frames for the window and counts those of the given type.
func countEvents(t *testing.T, conn *websocket.Conn, name string, window time.Duration) int {
	t.Helper()

	count := 0
	conn.SetReadDeadline(time.Now().Add(window))
	for {
		var ev event.WsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return count
		}
		if ev.Event == name {
			count++
		}
	}
}

func (r *testRelay) waitForRoomSize(t *testing.T, conversationID string, size int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		b := r.hub.shards[getShard(conversationID)]
		b.RLock()
		n := len(b.rooms[conversationID])
		b.RUnlock()
		if n == size {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s never reached size %d", conversationID, size)
}

func TestServeWSRejectsBadToken(t *testing.T) {
	r := newTestRelay(t)

	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "?token=bogus"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 response, got %+v", resp)
	}
}

func TestJoinRejectedForNonParticipant(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	conn := r.dial(t, "mallory")
	waitForEvent(t, conn, event.EventUsersOnline)

	sendEvent(t, conn, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})

	ev := waitForEvent(t, conn, event.EventError)
	var payload event.ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if payload.Code != "not_participant" {
		t.Errorf("error code = %q, want not_participant", payload.Code)
	}

	// The failed join must not have added the connection to the room.
	b := r.hub.shards[getShard(conversationID)]
	b.RLock()
	n := len(b.rooms[conversationID])
	b.RUnlock()
	if n != 0 {
		t.Errorf("room has %d members after rejected join, want 0", n)
	}
}

func TestMessageFanOutIncludesSenderExactlyOnce(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, bob, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 2)

	sendEvent(t, alice, event.EventSendMessage, event.SendMessagePayload{
		ConversationID: conversationID,
		Content:        "buenas tardes",
	})

	ev := waitForEvent(t, bob, event.EventNewMessage)
	var got model.MessageWithSender
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("bad message payload: %v", err)
	}
	if got.Content != "buenas tardes" {
		t.Errorf("content = %q, want %q", got.Content, "buenas tardes")
	}
	if got.SenderID != "alice" {
		t.Errorf("sender = %q, want alice", got.SenderID)
	}
	if got.SenderName == "" {
		t.Error("expected sender profile to be populated")
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0] != "alice" {
		t.Errorf("readBy = %v, want [alice]", got.ReadBy)
	}

	// The sender's own connection receives the broadcast too, exactly once.
	if n := countEvents(t, alice, event.EventNewMessage, 400*time.Millisecond); n != 1 {
		t.Errorf("sender received %d new-message events, want 1", n)
	}

	if r.messages.insertCount() != 1 {
		t.Errorf("persisted %d messages, want 1", r.messages.insertCount())
	}
}

func TestTypingExcludesSender(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, bob, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 2)

	sendEvent(t, alice, event.EventTyping, event.TypingPayload{
		ConversationID: conversationID,
		IsTyping:       true,
	})

	ev := waitForEvent(t, bob, event.EventUserTyping)
	var payload event.UserTypingPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("bad typing payload: %v", err)
	}
	if payload.UserID != "alice" || !payload.IsTyping {
		t.Errorf("typing payload = %+v, want alice typing", payload)
	}

	if n := countEvents(t, alice, event.EventUserTyping, 400*time.Millisecond); n != 0 {
		t.Errorf("sender received %d typing events, want 0", n)
	}
}

func TestOversizedMessageRejectedBeforePersistence(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 1)

	sendEvent(t, alice, event.EventSendMessage, event.SendMessagePayload{
		ConversationID: conversationID,
		Content:        strings.Repeat("a", model.MaxContentLength+1),
	})

	ev := waitForEvent(t, alice, event.EventError)
	var payload event.ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if payload.Code != "invalid_content" {
		t.Errorf("error code = %q, want invalid_content", payload.Code)
	}

	if r.messages.insertCount() != 0 {
		t.Errorf("oversized message reached persistence: %d inserts", r.messages.insertCount())
	}
}

func TestMarkReadBroadcastExcludesCaller(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, bob, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 2)

	messageID := primitive.NewObjectID().Hex()
	sendEvent(t, bob, event.EventMarkRead, event.MarkReadPayload{
		ConversationID: conversationID,
		MessageIDs:     []string{messageID},
	})

	ev := waitForEvent(t, alice, event.EventMessagesRead)
	var payload event.MessagesReadPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("bad messages-read payload: %v", err)
	}
	if payload.UserID != "bob" {
		t.Errorf("reader = %q, want bob", payload.UserID)
	}
	if len(payload.MessageIDs) != 1 || payload.MessageIDs[0] != messageID {
		t.Errorf("messageIds = %v, want [%s]", payload.MessageIDs, messageID)
	}

	if n := countEvents(t, bob, event.EventMessagesRead, 400*time.Millisecond); n != 0 {
		t.Errorf("caller received %d messages-read events, want 0", n)
	}

	r.messages.mu.Lock()
	reads := len(r.messages.reads)
	r.messages.mu.Unlock()
	if reads != 1 {
		t.Errorf("MarkRead called %d times, want 1", reads)
	}
}

func TestMarkReadIdempotentPerReader(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, bob, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 2)

	messageID := primitive.NewObjectID().Hex()
	for i := 0; i < 2; i++ {
		sendEvent(t, bob, event.EventMarkRead, event.MarkReadPayload{
			ConversationID: conversationID,
			MessageIDs:     []string{messageID},
		})
	}
	waitForEvent(t, alice, event.EventMessagesRead)
	waitForEvent(t, alice, event.EventMessagesRead)

	// A repeated receipt leaves the reader in the set exactly once.
	if readers := r.messages.readers(messageID); len(readers) != 1 || readers[0] != "bob" {
		t.Errorf("readers = %v, want [bob]", readers)
	}

	r.messages.mu.Lock()
	modified := append([]int64(nil), r.messages.modified...)
	r.messages.mu.Unlock()
	if len(modified) != 2 || modified[0] != 1 || modified[1] != 0 {
		t.Errorf("modified counts = %v, want [1 0]", modified)
	}
}

// gatedConversationStore blocks the first membership lookup until the gate
// opens, keeping that event in flight while later ones queue up.
type gatedConversationStore struct {
	*fakeConversationStore
	gateMu   sync.Mutex
	gated    bool
	gate     chan struct{}
	openOnce sync.Once
}

func (g *gatedConversationStore) open() {
	g.openOnce.Do(func() { close(g.gate) })
}

func (g *gatedConversationStore) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	g.gateMu.Lock()
	first := !g.gated
	g.gated = true
	g.gateMu.Unlock()

	if first {
		<-g.gate
	}
	return g.fakeConversationStore.GetByID(ctx, conversationID)
}

func TestSameConnectionEventsHandledInOrder(t *testing.T) {
	conversations := newFakeConversationStore()
	gated := &gatedConversationStore{fakeConversationStore: conversations, gate: make(chan struct{})}
	t.Cleanup(gated.open)
	r := newTestRelayWith(t, gated, conversations)
	conversationID := r.conversations.add("alice")

	alice := r.dial(t, "alice")
	waitForEvent(t, alice, event.EventUsersOnline)

	// The join stalls in its membership lookup; the send queued right
	// behind it on the same connection must wait for the join to finish.
	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, alice, event.EventSendMessage, event.SendMessagePayload{
		ConversationID: conversationID,
		Content:        "hola",
	})

	time.Sleep(200 * time.Millisecond)
	if n := r.messages.insertCount(); n != 0 {
		t.Fatalf("message persisted while the join was still in flight: %d inserts", n)
	}

	gated.open()

	ev := waitForEvent(t, alice, event.EventNewMessage)
	var got model.MessageWithSender
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("bad message payload: %v", err)
	}
	if got.Content != "hola" {
		t.Errorf("content = %q, want hola", got.Content)
	}

	if r.messages.insertCount() != 1 {
		t.Errorf("persisted %d messages, want 1", r.messages.insertCount())
	}
	if n := countEvents(t, alice, event.EventNewMessage, 300*time.Millisecond); n != 0 {
		t.Errorf("sender received %d extra new-message events, want 0", n)
	}
}

func TestPresenceBroadcastOnConnectAndDisconnect(t *testing.T) {
	r := newTestRelay(t)

	alice := r.dial(t, "alice")
	ev := waitForEvent(t, alice, event.EventUsersOnline)
	var payload event.UsersOnlinePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("bad users-online payload: %v", err)
	}
	if len(payload.UserIDs) != 1 || payload.UserIDs[0] != "alice" {
		t.Errorf("online = %v, want [alice]", payload.UserIDs)
	}

	bob := r.dial(t, "bob")
	waitForEvent(t, bob, event.EventUsersOnline)

	// Alice sees bob appear…
	for {
		ev = waitForEvent(t, alice, event.EventUsersOnline)
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("bad users-online payload: %v", err)
		}
		if len(payload.UserIDs) == 2 {
			break
		}
	}

	// …and disappear again after disconnect.
	bob.Close()
	for {
		ev = waitForEvent(t, alice, event.EventUsersOnline)
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("bad users-online payload: %v", err)
		}
		if len(payload.UserIDs) == 1 {
			break
		}
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	r := newTestRelay(t)
	conversationID := r.conversations.add("alice", "bob")

	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	sendEvent(t, alice, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	sendEvent(t, bob, event.EventJoinChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 2)

	sendEvent(t, bob, event.EventLeaveChat, event.JoinPayload{ConversationID: conversationID})
	r.waitForRoomSize(t, conversationID, 1)

	sendEvent(t, alice, event.EventSendMessage, event.SendMessagePayload{
		ConversationID: conversationID,
		Content:        "anyone there?",
	})

	waitForEvent(t, alice, event.EventNewMessage)
	if n := countEvents(t, bob, event.EventNewMessage, 400*time.Millisecond); n != 0 {
		t.Errorf("bob received %d messages after leaving, want 0", n)
	}
}
