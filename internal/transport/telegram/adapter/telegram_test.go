package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "bookbot/internal/transport"
	logx "bookbot/pkg/logx"
)

const testToken = "123:abc"

type botAPIStub struct {
	mu       sync.Mutex
	calls    map[string]int
	menus    []string
	messages []string
}

func newBotAPIStub(t *testing.T) (*botAPIStub, *httptest.Server) {
	t.Helper()
	stub := &botAPIStub{calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
		body, _ := io.ReadAll(r.Body)

		stub.mu.Lock()
		stub.calls[method]++
		switch method {
		case "setMyCommands":
			stub.menus = append(stub.menus, string(body))
		case "sendMessage":
			stub.messages = append(stub.messages, messageText(r, body))
		}
		n := len(stub.messages)
		stub.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bookbot","username":"bookbot"}}`)
		case "sendMessage":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"message_id": n, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}},
			})
		default:
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

// messageText extracts "text" from either a JSON or a form-encoded body.
func messageText(r *http.Request, body []byte) string {
	var m map[string]any
	if json.Unmarshal(body, &m) == nil {
		s, _ := m["text"].(string)
		return s
	}
	v, _ := url.ParseQuery(string(body))
	return v.Get("text")
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a, err := New(Config{Token: testToken, APIURL: srv.URL, PollTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	stub, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)

	cmds := []kit.BotCommand{{Command: "start"}, {Command: "search", Description: "Search books"}}
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 1, stub.calls["setMyCommands"])
	require.Len(t, stub.menus, 1)
	assert.JSONEq(t,
		`{"commands":[{"command":"start","description":"start"},{"command":"search","description":"Search books"}]}`,
		stub.menus[0])
}

func TestSendTextSplitsLongReplies(t *testing.T) {
	stub, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)

	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 60) // 6000 chars

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, text, &kit.SendOptions{DisablePreview: true})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ChatID)
	assert.Equal(t, 1, ref.MessageID)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.messages, 2)
	assert.Equal(t, strings.TrimSpace(text), strings.TrimSpace(stub.messages[0]+"\n"+stub.messages[1]))
}

func TestRouteCountsDrops(t *testing.T) {
	_, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)

	out := make(chan kit.Update, 1)
	a.setSink(out)
	a.route(kit.Update{Kind: kit.UpdateStart})
	a.route(kit.Update{Kind: kit.UpdateStart})

	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.dropped.Load())
}

func incoming(text string) tele.Update {
	return tele.Update{ID: 1, Message: &tele.Message{
		ID:     11,
		Text:   text,
		Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 7, Username: "reader"},
	}}
}

func captureUpdates(a *Adapter) chan kit.Update {
	out := make(chan kit.Update, 4)
	a.setSink(out)
	return out
}

func nextUpdate(t *testing.T, out chan kit.Update) kit.Update {
	t.Helper()
	select {
	case up := <-out:
		return up
	case <-time.After(2 * time.Second):
		t.Fatal("no update routed")
		return kit.Update{}
	}
}

func TestRoutesTelegramUpdates(t *testing.T) {
	_, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)
	out := captureUpdates(a)

	a.bot.ProcessUpdate(incoming("/start"))
	up := nextUpdate(t, out)
	assert.Equal(t, kit.UpdateStart, up.Kind)
	require.NotNil(t, up.Message)
	assert.Equal(t, int64(42), up.Message.ChatID)
	assert.Equal(t, int64(7), up.Message.FromID)
	assert.Equal(t, "reader", up.Message.FromUsername)

	a.bot.ProcessUpdate(incoming("Dune"))
	up = nextUpdate(t, out)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.Equal(t, "Dune", up.Message.Text)
	assert.Empty(t, up.Message.Args)

	a.bot.ProcessUpdate(incoming("/search good omens"))
	up = nextUpdate(t, out)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.Equal(t, "good omens", up.Message.Text)
	assert.Equal(t, []string{"good", "omens"}, up.Message.Args)
}

func TestBareSearchCommandCarriesNoQuery(t *testing.T) {
	_, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)
	out := captureUpdates(a)

	a.bot.ProcessUpdate(incoming("/search"))
	up := nextUpdate(t, out)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.Empty(t, up.Message.Text)
	assert.Empty(t, up.Message.Args)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	_, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)
	out := captureUpdates(a)

	a.bot.ProcessUpdate(incoming("/unknown"))
	a.bot.ProcessUpdate(incoming("/start"))

	// Handlers may run concurrently; the only update routed is /start.
	up := nextUpdate(t, out)
	assert.Equal(t, kit.UpdateStart, up.Kind)
	select {
	case extra := <-out:
		t.Fatalf("unexpected update %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnErrorRoutesErrorUpdate(t *testing.T) {
	_, srv := newBotAPIStub(t)
	a := newTestAdapter(t, srv)
	out := captureUpdates(a)

	boom := errors.New("telegram: conflict")
	a.onError(boom, a.bot.NewContext(incoming("Dune")))
	up := nextUpdate(t, out)
	assert.Equal(t, kit.UpdateError, up.Kind)
	assert.ErrorIs(t, up.Err, boom)
	require.NotNil(t, up.Message)
	assert.Equal(t, int64(42), up.Message.ChatID)

	a.onError(boom, nil)
	up = nextUpdate(t, out)
	assert.Equal(t, kit.UpdateError, up.Kind)
	assert.Nil(t, up.Message)

	a.onError(nil, nil)
	assert.Empty(t, out)
}
