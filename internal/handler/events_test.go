package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"cartsync/internal/model"
	"cartsync/internal/session"
	"cartsync/internal/surface"
)

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) session.Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var evt session.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return evt
}

func TestHandleEvents(t *testing.T) {
	mock := cartMock()
	mock.SetQuantityFunc = func(ctx context.Context, key string, qty int) (*model.QuantityResult, error) {
		return &model.QuantityResult{Count: 3, Subtotal: money("25"), Total: money("29")}, nil
	}
	_, mux := testHandler(t, mock)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var created createSessionResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + created.ID + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	primed := map[string]bool{}
	for range 4 {
		evt := readEvent(t, ctx, conn)
		if evt.Type != session.EventDiff || evt.Diff == nil {
			t.Fatalf("priming event = %+v", evt)
		}
		primed[evt.Diff.Surface] = true
	}
	for _, name := range []string{surface.NameBadge, surface.NamePanel, surface.NamePopup, surface.NameCheckout} {
		if !primed[name] {
			t.Errorf("no priming view for %s", name)
		}
	}

	resp, err = http.Post(srv.URL+"/sessions/"+created.ID+"/items/a/increment", "application/json", nil)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("increment: %v %v", resp, err)
	}
	resp.Body.Close()

	for {
		evt := readEvent(t, ctx, conn)
		if evt.Type == session.EventDiff && evt.Diff.Surface == surface.NameBadge && evt.Diff.Fields["count"] == float64(3) {
			break
		}
	}

	req, _ := http.NewRequest("DELETE", srv.URL+"/sessions/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %v %v", resp, err)
	}
	resp.Body.Close()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
				t.Errorf("close status = %v (%v), want normal closure", status, err)
			}
			return
		}
		var evt session.Event
		if json.Unmarshal(data, &evt) == nil && evt.Type == session.EventClosed {
			continue
		}
	}
}

func TestHandleEventsUnknownSession(t *testing.T) {
	_, mux := testHandler(t, cartMock())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/missing/events"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("Dial() to a missing session succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("Dial() timed out instead of failing fast")
	}
}
