package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/voiceintake/pkg/provider/tts"
)

// fakeServer speaks just enough of the stream-input protocol: it records the
// handshake and text messages and answers the flush with two audio frames.
type fakeServer struct {
	mu       sync.Mutex
	path     string
	query    string
	boi      boiMessage
	messages []textMessage
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		f.mu.Lock()
		f.path, f.query = r.URL.Path, r.URL.RawQuery
		f.mu.Unlock()

		ctx := r.Context()
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var boi boiMessage
		_ = sonic.Unmarshal(raw, &boi)
		f.mu.Lock()
		f.boi = boi
		f.mu.Unlock()

		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg textMessage
			_ = sonic.Unmarshal(raw, &msg)
			if msg.Text == "" {
				for i, part := range []string{"ID3", "-mp3"} {
					resp, _ := sonic.Marshal(audioResponse{
						Audio:   base64.StdEncoding.EncodeToString([]byte(part)),
						IsFinal: i == 1,
					})
					if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
						return
					}
				}
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			f.mu.Lock()
			f.messages = append(f.messages, msg)
			f.mu.Unlock()
		}
	})
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	t.Parallel()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("secret", WithBaseURLs(wsBase, srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	audio, err := tts.Synthesize(ctx, p, "Guten Tag, Praxis Dr. Weber.", tts.Voice{ID: "voice-1", Stability: 0.6})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-mp3" {
		t.Errorf("audio = %q, want ID3-mp3", audio)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", fake.path)
	}
	if !strings.Contains(fake.query, "model_id=eleven_multilingual_v2") || !strings.Contains(fake.query, "output_format=mp3_44100_128") {
		t.Errorf("query = %q", fake.query)
	}
	if fake.boi.XiAPIKey != "secret" {
		t.Errorf("BOI api key = %q", fake.boi.XiAPIKey)
	}
	if fake.boi.VoiceSettings == nil || fake.boi.VoiceSettings.Stability != 0.6 || fake.boi.VoiceSettings.SimilarityBoost != defaultSimilarityBoost {
		t.Errorf("BOI voice settings = %+v", fake.boi.VoiceSettings)
	}
	if len(fake.messages) != 1 || fake.messages[0].Text != "Guten Tag, Praxis Dr. Weber. " {
		t.Errorf("messages = %+v", fake.messages)
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.Voice{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestSynthesizeStream_DialFailure(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithBaseURLs("ws://127.0.0.1:1", ""))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.SynthesizeStream(ctx, make(chan string), tts.Voice{ID: "v"}); err == nil {
		t.Error("expected dial error")
	}
}

func TestSettingsFor_Defaults(t *testing.T) {
	t.Parallel()
	vs := settingsFor(tts.Voice{ID: "v"})
	if vs.Stability != 0.4 || vs.SimilarityBoost != 0.8 {
		t.Errorf("defaults = %+v, want 0.4/0.8", vs)
	}
}

func TestStreamURL_EscapesVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("eleven_turbo_v2_5"), WithOutputFormat("mp3_22050_32"))
	u := p.streamURL("a/b")
	if !strings.HasPrefix(u, "wss://api.elevenlabs.io/v1/text-to-speech/a%2Fb/stream-input?") {
		t.Errorf("url = %s", u)
	}
	if !strings.Contains(u, "model_id=eleven_turbo_v2_5") || !strings.Contains(u, "output_format=mp3_22050_32") {
		t.Errorf("url = %s", u)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"voices":[
			{"voice_id":"abc123","name":"Rachel","category":"premade","labels":{"gender":"female"}},
			{"voice_id":"x1","name":"Ghost","category":"","labels":null}
		]}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs("", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices", len(voices))
	}
	if voices[0].ID != "abc123" || voices[0].Provider != "elevenlabs" || voices[0].Metadata["category"] != "premade" {
		t.Errorf("voice[0] = %+v", voices[0])
	}
	if _, ok := voices[1].Metadata["category"]; ok {
		t.Error("empty category should not appear in metadata")
	}
}

func TestListVoices_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs("", srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Error("expected error for 401")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("outputFormat = %q, want %q", p.outputFormat, defaultOutputFmt)
	}
}
