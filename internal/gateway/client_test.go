package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", APIKey: "secret", SendDelay: 1200 * time.Millisecond, Presence: "composing"})
}

func TestSendText(t *testing.T) {
	var got sendTextRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/sendText/sales" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "secret" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"key":{"id":"ABC123","fromMe":true}}`))
	})

	id, err := c.SendText(context.Background(), "sales", "+55 (11) 98765-4321", "Oi")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if id != "ABC123" {
		t.Errorf("SendText() id = %q", id)
	}
	if got.Number != "5511987654321" || got.Text != "Oi" {
		t.Errorf("request = %+v", got)
	}
	if got.Options.Delay != 1200 || got.Options.Presence != "composing" {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestSendTextAcceptedWithoutBody(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	id, err := c.SendText(context.Background(), "sales", "5511987654321", "Oi")
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if id != "" || calls != 1 {
		t.Errorf("SendText() id = %q, calls = %d", id, calls)
	}
}

func TestDecodeErrorIsNotTemporary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>proxy</html>`))
	})

	_, err := c.FetchHistory(context.Background(), "sales", "5511987654321@s.whatsapp.net", 10)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("FetchHistory() error = %v, want *DecodeError", err)
	}
	if decodeErr.Temporary() {
		t.Error("DecodeError.Temporary() = true")
	}
}

func TestAPIErrorTemporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		})
		_, err := c.SendText(context.Background(), "sales", "5511987654321", "Oi")

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: error %v is not *APIError", tt.status, err)
		}
		if apiErr.Temporary() != tt.want {
			t.Errorf("status %d: Temporary() = %v, want %v", tt.status, apiErr.Temporary(), tt.want)
		}
		if apiErr.Body != "nope" {
			t.Errorf("status %d: Body = %q", tt.status, apiErr.Body)
		}
	}
}

func TestFetchHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Offset int `json:"offset"`
			Where  struct {
				Key struct {
					RemoteJID string `json:"remoteJid"`
				} `json:"key"`
			} `json:"where"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Where.Key.RemoteJID != "5511987654321@s.whatsapp.net" || req.Offset != 32 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"messages":{"total":4,"records":[
			{"key":{"id":"m3","fromMe":false},"messageTimestamp":"1700000300","message":{"audioMessage":{"mimetype":"audio/ogg"}}},
			{"key":{"id":"m1","fromMe":true},"messageTimestamp":1700000100,"message":{"conversation":"Oi"}},
			{"key":{"id":"m2","fromMe":false},"messageTimestamp":1700000200,"message":{"extendedTextMessage":{"text":"Quem é?"}}},
			{"key":{"id":"m4","fromMe":false},"messageTimestamp":1700000400,"message":{"imageMessage":{"caption":"tabela","mimetype":"image/jpeg"}}}
		]}}`))
	})

	msgs, err := c.FetchHistory(context.Background(), "sales", "5511987654321@s.whatsapp.net", 32)
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("FetchHistory() returned %d messages", len(msgs))
	}

	wantIDs := []string{"m1", "m2", "m3", "m4"}
	for i, id := range wantIDs {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %s, want %s", i, msgs[i].ID, id)
		}
	}
	if !msgs[0].FromMe || msgs[0].Text != "Oi" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Text != "Quem é?" {
		t.Errorf("msgs[1].Text = %q", msgs[1].Text)
	}
	if msgs[2].MediaKind != MediaAudio || msgs[2].MimeType != "audio/ogg" {
		t.Errorf("msgs[2] = %+v", msgs[2])
	}
	if msgs[3].MediaKind != MediaImage || msgs[3].Caption != "tabela" {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}
}

func TestCheckNumbers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/whatsappNumbers/sales" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"exists":true,"jid":"5511987654321@s.whatsapp.net","number":"5511987654321"},
			{"exists":false,"jid":"551133334444@s.whatsapp.net"}]`))
	})

	got, err := c.CheckNumbers(context.Background(), "sales", []string{"5511987654321", "551133334444"})
	if err != nil {
		t.Fatalf("CheckNumbers() error = %v", err)
	}
	if !got["5511987654321"] {
		t.Error("5511987654321 should exist")
	}
	if exists, ok := got["551133334444"]; !ok || exists {
		t.Errorf("551133334444 = %v, %v", exists, ok)
	}
}

func TestFetchMedia(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"base64":"aGVsbG8=","mimetype":"audio/ogg"}`))
	})

	m, err := c.FetchMedia(context.Background(), "sales", "m3")
	if err != nil {
		t.Fatalf("FetchMedia() error = %v", err)
	}
	if string(m.Data) != "hello" || m.MimeType != "audio/ogg" {
		t.Errorf("FetchMedia() = %+v", m)
	}
}
