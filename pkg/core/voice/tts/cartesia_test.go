package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewCartesia_ConstructorsAndName(t *testing.T) {
	p := NewCartesia("api-key")
	if p.Name() != "cartesia" {
		t.Fatalf("name = %q, want cartesia", p.Name())
	}
	if p.baseWSURL != cartesiaWSURL {
		t.Fatalf("base URL = %q, want default", p.baseWSURL)
	}

	custom := NewCartesiaWithBaseURL("api-key", "wss://example.test/tts")
	if custom.baseWSURL != "wss://example.test/tts" {
		t.Fatalf("base URL = %q, want custom", custom.baseWSURL)
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	p := NewCartesia("api-key")
	_, err := p.SynthesizeStream(context.Background(), "hello", SynthesizeOptions{})
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
}

// fakeCartesia serves one synthesis exchange over a websocket.
func fakeCartesia(t *testing.T, handle func(req cartesiaWSRequest, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req cartesiaWSRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		handle(req, conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSynthesizeStream_DeliversChunksThenDone(t *testing.T) {
	chunks := [][]byte{[]byte("aaaa"), []byte("bbbb")}
	server := fakeCartesia(t, func(req cartesiaWSRequest, conn *websocket.Conn) {
		if req.Transcript != "hello caller" {
			t.Errorf("transcript = %q", req.Transcript)
		}
		if req.ModelID != defaultModelID {
			t.Errorf("model = %q, want %q", req.ModelID, defaultModelID)
		}
		if req.OutputFormat.Encoding != defaultEncoding || req.OutputFormat.SampleRate != defaultSampleRate {
			t.Errorf("output format = %#v", req.OutputFormat)
		}
		if req.ContextID == "" {
			t.Error("context_id should be set")
		}
		for _, c := range chunks {
			msg, _ := json.Marshal(cartesiaWSResponse{
				Type: "chunk",
				Data: base64.StdEncoding.EncodeToString(c),
			})
			conn.WriteMessage(websocket.TextMessage, msg)
		}
		done, _ := json.Marshal(cartesiaWSResponse{Type: "done", Done: true})
		conn.WriteMessage(websocket.TextMessage, done)
	})
	defer server.Close()

	p := NewCartesiaWithBaseURL("api-key", wsURL(server))
	stream, err := p.SynthesizeStream(context.Background(), "hello caller", SynthesizeOptions{Voice: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	defer stream.Close()

	var got [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				if err := stream.Err(); err != nil {
					t.Fatalf("stream err: %v", err)
				}
				if len(got) != 2 || string(got[0]) != "aaaa" || string(got[1]) != "bbbb" {
					t.Fatalf("chunks = %q", got)
				}
				return
			}
			got = append(got, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}
}

func TestSynthesizeStream_VendorErrorSurfacesAsSynthesisError(t *testing.T) {
	server := fakeCartesia(t, func(req cartesiaWSRequest, conn *websocket.Conn) {
		chunk, _ := json.Marshal(cartesiaWSResponse{
			Type: "chunk",
			Data: base64.StdEncoding.EncodeToString([]byte("head")),
		})
		conn.WriteMessage(websocket.TextMessage, chunk)
		fail, _ := json.Marshal(cartesiaWSResponse{Type: "error", Error: "capacity"})
		conn.WriteMessage(websocket.TextMessage, fail)
	})
	defer server.Close()

	p := NewCartesiaWithBaseURL("api-key", wsURL(server))
	stream, err := p.SynthesizeStream(context.Background(), "hi", SynthesizeOptions{Voice: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	defer stream.Close()

	var got [][]byte
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-stream.Chunks():
			if !ok {
				var se *SynthesisError
				if !errors.As(stream.Err(), &se) {
					t.Fatalf("stream err = %v, want *SynthesisError", stream.Err())
				}
				if len(got) != 1 {
					t.Fatalf("got %d chunks before the error, want 1", len(got))
				}
				return
			}
			got = append(got, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for stream end")
		}
	}
}

func TestSynthesizeStream_ConnectFailure(t *testing.T) {
	p := NewCartesiaWithBaseURL("api-key", "ws://127.0.0.1:1/tts")
	_, err := p.SynthesizeStream(context.Background(), "hi", SynthesizeOptions{Voice: "v1"})
	var se *SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
}
