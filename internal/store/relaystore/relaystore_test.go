package relaystore

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/store"
)

// testRelay is a single-connection relay speaking the client's envelope
// protocol: enough to exercise put authorization, point reads and push
// updates without a real peer network.
type testRelay struct {
	pub ed25519.PublicKey

	// onHold, when set, makes the handler rendezvous with the test before
	// answering an "on"; onErr refuses the registration.
	onHold chan struct{}
	onErr  string

	mu     sync.Mutex
	data   map[string]map[string]string
	active *websocket.Conn
}

// dropActive severs the relay side of the current connection, simulating a
// relay restart.
func (r *testRelay) dropActive() {
	r.mu.Lock()
	conn := r.active
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "relay restart")
	}
}

func (r *testRelay) handler(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	r.mu.Lock()
	r.active = conn
	r.mu.Unlock()
	ctx := req.Context()
	subs := map[string]bool{}

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		resp := message{Op: "result", ID: msg.ID}
		var update *message

		switch msg.Op {
		case "put":
			subject, path, err := VerifyWriteToken(msg.Token, r.pub)
			if err != nil || path != msg.Path || !strings.HasPrefix(msg.Path, subject+"/") {
				resp.Err = "unauthorized write"
				break
			}
			r.mu.Lock()
			if r.data[msg.Path] == nil {
				r.data[msg.Path] = map[string]string{}
			}
			r.data[msg.Path][msg.Key] = msg.Value
			r.mu.Unlock()
			if subs[msg.Path] {
				update = &message{Op: "update", Path: msg.Path, Key: msg.Key, Value: msg.Value}
			}
		case "get":
			r.mu.Lock()
			out := make(map[string]string, len(r.data[msg.Path]))
			for k, v := range r.data[msg.Path] {
				out[k] = v
			}
			r.mu.Unlock()
			resp.Data = out
		case "on":
			if r.onHold != nil {
				r.onHold <- struct{}{}
				<-r.onHold
			}
			if r.onErr != "" {
				resp.Err = r.onErr
				break
			}
			subs[msg.Path] = true
		default:
			resp.Err = "unknown op"
		}

		if data, err := json.Marshal(resp); err == nil {
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		if update != nil {
			if data, err := json.Marshal(update); err == nil {
				_ = conn.Write(ctx, websocket.MessageText, data)
			}
		}
	}
}

func newTestClient(t *testing.T) (*Client, *testRelay, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	relay := &testRelay{pub: pub, data: map[string]map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(relay.handler))
	t.Cleanup(srv.Close)

	const owner = "owner-1"
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), url, &WriteTokenSigner{OwnerToken: owner, Key: priv}, zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, relay, owner
}

func TestClient_PutGet(t *testing.T) {
	t.Parallel()
	c, _, owner := newTestClient(t)
	ctx := context.Background()
	path := owner + "/heartrate"

	if err := c.Put(ctx, path, "1000", "ct-a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, path, "1000", "ct-b"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	kv, err := c.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(kv) != 1 || kv["1000"] != "ct-b" {
		t.Fatalf("kv=%v, want idempotent overwrite", kv)
	}
}

func TestClient_RejectsForeignNamespaceWrite(t *testing.T) {
	t.Parallel()
	c, relay, _ := newTestClient(t)

	err := c.Put(context.Background(), "somebody-else/heartrate", "1000", "ct")
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("got %v, want rejected write", err)
	}
	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.data) != 0 {
		t.Fatalf("rejected write must not be stored")
	}
}

func TestClient_Subscription(t *testing.T) {
	t.Parallel()
	c, _, owner := newTestClient(t)
	ctx := context.Background()
	path := owner + "/heartrate"

	var mu sync.Mutex
	var got []store.Update
	unsub, err := c.On(path, func(u store.Update) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}
	defer unsub()

	if err := c.Put(ctx, path, "2000", "ct"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no update delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0].Key != "2000" || got[0].Value != "ct" {
		t.Fatalf("update=%+v", got[0])
	}
}

func TestClient_ResubscribesAfterReconnect(t *testing.T) {
	t.Parallel()
	c, relay, owner := newTestClient(t)
	ctx := context.Background()
	path := owner + "/heartrate"

	updates := make(chan store.Update, 4)
	unsub, err := c.On(path, func(u store.Update) { updates <- u })
	if err != nil {
		t.Fatalf("On: %v", err)
	}
	defer unsub()

	relay.dropActive()

	// The redialed connection must become usable well inside the request
	// timeout: a replayed registration that awaited replies nobody reads
	// would park the read loop and stall every call here.
	deadline := time.Now().Add(5 * time.Second)
	for {
		pctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		err := c.Put(pctx, path, "3000", "ct")
		cancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("put after reconnect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case u := <-updates:
		if u.Key != "3000" || u.Value != "ct" {
			t.Fatalf("update=%+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("replayed subscription delivered no update")
	}
}

func TestClient_FailedRegistrationKeepsConcurrentSubscriber(t *testing.T) {
	t.Parallel()
	c, relay, owner := newTestClient(t)
	path := owner + "/heartrate"
	relay.onHold = make(chan struct{})
	relay.onErr = "subscription refused"

	errc := make(chan error, 1)
	go func() {
		_, err := c.On(path, func(store.Update) {})
		errc <- err
	}()

	// First registration is in flight once the relay reaches the hold;
	// a second subscriber on the same path piggybacks without a request.
	<-relay.onHold
	unsub, err := c.On(path, func(store.Update) {})
	if err != nil {
		t.Fatalf("piggyback On: %v", err)
	}
	defer unsub()
	relay.onHold <- struct{}{}

	if err := <-errc; !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("got %v, want refused registration", err)
	}

	c.mu.Lock()
	n := len(c.subs[path])
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("surviving subscribers=%d, want the piggybacked one kept", n)
	}
}
