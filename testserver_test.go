package chatapp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"
)

const testToken = "test-token"

type fakeConversation struct {
	id           string
	name         string
	participants []string
	messages     []map[string]any
}

// fakeServer is an in-memory stand-in for the messaging service.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	self          string
	users         []map[string]any
	conversations map[string]*fakeConversation
	order         []string
	nextID        int

	// remaining failures per route; a negative value fails forever
	failList     int
	failGet      int
	failMessages int
	failUpload   bool
	failSend     bool
	failReact    bool

	listCalls     int
	getCalls      int
	messageCalls  int
	sendCalls     int
	uploadCalls   int
	reactCalls    int
	afterParams   []string
	idempotency   []string
	uploadedTypes []string

	// called before answering, outside the lock
	beforeGet      func(id string)
	beforeMessages func(id string)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		t:             t,
		self:          "alice",
		conversations: make(map[string]*fakeConversation),
		users: []map[string]any{
			{"name": "alice", "bio": "hi", "avatar_url": "http://cdn/alice.png"},
			{"name": "bob", "bio": ""},
			{"name": "carol"},
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/login", f.handleLogin).Methods("POST")
	r.HandleFunc("/signup", f.handleSignup).Methods("POST")
	api := r.NewRoute().Subrouter()
	api.Use(f.auth)
	api.HandleFunc("/users", f.handleUsers).Methods("GET")
	api.HandleFunc("/users/me", f.handleMe).Methods("GET")
	api.HandleFunc("/users/me/bio", f.handleBio).Methods("PUT")
	api.HandleFunc("/users/{name}", f.handleUser).Methods("GET")
	api.HandleFunc("/conversations", f.handleListConversations).Methods("GET")
	api.HandleFunc("/conversations", f.handleCreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}", f.handleGetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", f.handleListMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", f.handleSendMessage).Methods("POST")
	api.HandleFunc("/conversations/{id}/messages/{mid}/reactions", f.handleReaction).Methods("POST")
	api.HandleFunc("/upload/media", f.handleUpload).Methods("POST")
	api.HandleFunc("/upload/avatar/", f.handleUpload).Methods("POST")

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) client(opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(f.srv.URL),
		WithRateLimit(0, 0),
		WithLogger(zaptest.NewLogger(f.t)),
	}
	return NewClient(testToken, append(base, opts...)...)
}

func (f *fakeServer) addConversation(id, name string, participants ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = &fakeConversation{id: id, name: name, participants: participants}
	f.order = append(f.order, id)
}

// addMessage appends a message from sender and returns its id.
func (f *fakeServer) addMessage(convID, sender, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(convID, sender, content, "")
}

func (f *fakeServer) appendLocked(convID, sender, content, media string) string {
	f.nextID++
	id := fmt.Sprintf("m%d", f.nextID)
	c := f.conversations[convID]
	c.messages = append(c.messages, map[string]any{
		"id":        id,
		"sender":    sender,
		"content":   content,
		"media":     media,
		"timestamp": time.Date(2024, 5, 1, 10, 0, f.nextID, 0, time.UTC).Format("2006-01-02T15:04:05.000000"),
		"reactions": map[string]any{},
	})
	return id
}

func (f *fakeServer) messageCount(convID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conversations[convID].messages)
}

func (f *fakeServer) calls(counter *int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *counter
}

// ── handlers ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func detail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"detail": msg})
}

func (f *fakeServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			detail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func shouldFail(n *int) bool {
	if *n == 0 {
		return false
	}
	if *n > 0 {
		*n--
	}
	return true
}

func (f *fakeServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["name"] != "alice" || body["password"] != "secret" {
		detail(w, http.StatusBadRequest, "Incorrect username or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": testToken, "token_type": "bearer"})
}

func (f *fakeServer) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u["name"] == body["name"] {
			detail(w, http.StatusBadRequest, "User already exists")
			return
		}
	}
	f.users = append(f.users, map[string]any{"name": body["name"], "bio": body["bio"]})
	writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "name": body["name"], "bio": body["bio"], "avatar_url": nil})
}

func (f *fakeServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.users)
}

func (f *fakeServer) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"id": "u0", "name": f.self, "bio": "hi"})
}

func (f *fakeServer) handleBio(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, http.StatusOK, map[string]any{"name": f.self, "bio": body["bio"]})
}

func (f *fakeServer) handleUser(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u["name"] == name {
			writeJSON(w, http.StatusOK, u)
			return
		}
	}
	detail(w, http.StatusNotFound, "User not found")
}

func (f *fakeServer) handleListConversations(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if shouldFail(&f.failList) {
		detail(w, http.StatusInternalServerError, "database unavailable")
		return
	}
	out := make([]map[string]any, 0, len(f.order))
	for _, id := range f.order {
		c := f.conversations[id]
		out = append(out, map[string]any{"id": c.id, "name": c.name, "participants": c.participants, "messages": []any{}})
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *fakeServer) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	participants := body.Participants
	found := false
	for _, p := range participants {
		found = found || p == f.self
	}
	if !found {
		participants = append(participants, f.self)
	}
	id := fmt.Sprintf("c%d", len(f.order)+1)
	f.addConversation(id, body.Name, participants...)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": body.Name, "participants": participants, "messages": []any{}})
}

func (f *fakeServer) conversation(w http.ResponseWriter, r *http.Request) (*fakeConversation, bool) {
	c, ok := f.conversations[mux.Vars(r)["id"]]
	if !ok {
		detail(w, http.StatusNotFound, "Conversation not found")
	}
	return c, ok
}

func copyMessages(in []map[string]any) []map[string]any {
	out := make([]map[string]any, len(in))
	for i, m := range in {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		if r, ok := m["reactions"].(map[string]any); ok {
			rc := make(map[string]any, len(r))
			for k, v := range r {
				rc[k] = v
			}
			cp["reactions"] = rc
		}
		out[i] = cp
	}
	return out
}

func (f *fakeServer) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if hook := f.hook(&f.beforeGet); hook != nil {
		hook(mux.Vars(r)["id"])
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if shouldFail(&f.failGet) {
		detail(w, http.StatusServiceUnavailable, "try again")
		return
	}
	c, ok := f.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": c.id, "name": c.name, "participants": c.participants, "messages": copyMessages(c.messages),
	})
}

func (f *fakeServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if hook := f.hook(&f.beforeMessages); hook != nil {
		hook(mux.Vars(r)["id"])
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls++
	f.afterParams = append(f.afterParams, r.URL.Query().Get("after"))
	if shouldFail(&f.failMessages) {
		detail(w, http.StatusInternalServerError, "boom")
		return
	}
	c, ok := f.conversation(w, r)
	if !ok {
		return
	}
	msgs := copyMessages(c.messages)
	if after := r.URL.Query().Get("after"); after != "" {
		for i, m := range msgs {
			if m["id"] == after {
				msgs = msgs[i+1:]
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (f *fakeServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
		Media   string `json:"media"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.idempotency = append(f.idempotency, r.Header.Get("Idempotency-Key"))
	if f.failSend {
		detail(w, http.StatusForbidden, "Access denied")
		return
	}
	c, ok := f.conversation(w, r)
	if !ok {
		return
	}
	f.appendLocked(c.id, f.self, body.Content, body.Media)
	writeJSON(w, http.StatusOK, c.messages[len(c.messages)-1])
}

func (f *fakeServer) handleReaction(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactCalls++
	if f.failReact {
		detail(w, http.StatusInternalServerError, "reaction store down")
		return
	}
	c, ok := f.conversation(w, r)
	if !ok {
		return
	}
	for _, m := range c.messages {
		if m["id"] == mux.Vars(r)["mid"] {
			reactions := m["reactions"].(map[string]any)
			n, _ := reactions[body["reaction"]].(float64)
			reactions[body["reaction"]] = n + 1
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	detail(w, http.StatusNotFound, "Message not found")
}

func (f *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.uploadCalls++
	fail := f.failUpload
	f.mu.Unlock()
	if fail {
		detail(w, http.StatusBadGateway, "upload backend unavailable")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		detail(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	f.mu.Lock()
	f.uploadedTypes = append(f.uploadedTypes, header.Header.Get("Content-Type"))
	f.mu.Unlock()
	u := "http://cdn/uploads/" + header.Filename
	if strings.HasPrefix(r.URL.Path, "/upload/avatar") {
		writeJSON(w, http.StatusOK, map[string]any{"avatar_url": u, "size": len(data)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u, "size": len(data)})
}

func (f *fakeServer) hook(h *func(string)) func(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *h
}

func (f *fakeServer) setHook(h *func(string), fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*h = fn
}

func (f *fakeServer) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeServer) lastAfter() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.afterParams) == 0 {
		return ""
	}
	return f.afterParams[len(f.afterParams)-1]
}

func (f *fakeServer) idempotencyKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idempotency...)
}

func (f *fakeServer) lastUploadType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploadedTypes) == 0 {
		return ""
	}
	return f.uploadedTypes[len(f.uploadedTypes)-1]
}
