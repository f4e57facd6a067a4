package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/unlocklabs/unlock/internal/audio"
	"github.com/unlocklabs/unlock/internal/config"
	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/storage"
	"github.com/unlocklabs/unlock/internal/urlnorm"
	"github.com/unlocklabs/unlock/internal/ui/viewmodels"
)

// stubHost stands in for the decoding audio host so playback intents can be
// exercised without real WAV assets.
type stubHost struct {
	mu      sync.Mutex
	playing bool
	pos     float64
}

func (h *stubHost) Play(req audio.PlayRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = true
	h.pos = req.StartTime
	return nil
}

func (h *stubHost) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	return nil
}

func (h *stubHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = false
	h.pos = 0
	return nil
}

func (h *stubHost) Toggle() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playing = !h.playing
	return nil
}

func (h *stubHost) Seek(t float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = t
	return nil
}

func (h *stubHost) CurrentTime() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *stubHost) Close() {}

type stubLogs struct{}

func (stubLogs) ServeLogsJSON(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }
func (stubLogs) ServeLogsSSE(w http.ResponseWriter, r *http.Request)  { w.WriteHeader(200) }

type fixture struct {
	t     *testing.T
	srv   *httptest.Server
	db    *storage.DB
	coord *coordinator.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	coord := coordinator.New(coordinator.Options{
		DB: db,
		NewHost: func(emit func(audio.Event)) coordinator.AudioHost {
			return &stubHost{}
		},
	})

	serving := audio.New(db, func(audio.Event) {})
	cfg := config.Default()

	mux := http.NewServeMux()
	Register(mux, Deps{
		Coord:   coord,
		DB:      db,
		Norm:    urlnorm.NewMatcher(nil),
		Audio:   serving,
		Cfg:     &cfg,
		Logs:    stubLogs{},
		BaseURL: "http://127.0.0.1:8787",
		Version: "test",
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		coord.Close()
		serving.Close()
		db.Close()
	})

	return &fixture{t: t, srv: srv, db: db, coord: coord}
}

func (f *fixture) postJSON(path string, body any) *http.Response {
	f.t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		f.t.Fatal(err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		f.t.Fatal(err)
	}
	return resp
}

func (f *fixture) get(path string) *http.Response {
	f.t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		f.t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func sampleItems() []packet.ContentItem {
	return []packet.ContentItem{
		{
			Kind:  packet.KindExternal,
			Title: "Alpha article",
			URL:   "https://example.com/articles/alpha",
		},
		{
			Kind:   packet.KindGenerated,
			Title:  "Quiz",
			PageID: "quiz-1",
		},
		{
			Kind:   packet.KindMedia,
			Title:  "Narration",
			PageID: "page-audio",
			Timestamps: []packet.Timestamp{
				{StartTime: 10, EndTime: 15, URL: "https://example.com/articles/alpha"},
			},
		},
	}
}

func TestImageAndPacketLifecycle(t *testing.T) {
	f := newFixture(t)

	var img packet.PacketImage

	t.Run("import image", func(t *testing.T) {
		resp := f.postJSON("/api/images", map[string]any{
			"topic":          "Test Topic",
			"source_content": sampleItems(),
		})
		requireStatus(t, resp, 200)
		img = decode[packet.PacketImage](t, resp)
		if img.ID == "" {
			t.Fatal("expected generated image id")
		}
		if len(img.SourceContent) != 3 {
			t.Fatalf("expected 3 items, got %d", len(img.SourceContent))
		}
	})

	t.Run("list images", func(t *testing.T) {
		resp := f.get("/api/images")
		requireStatus(t, resp, 200)
		list := decode[[]packet.PacketImage](t, resp)
		if len(list) != 1 || list[0].ID != img.ID {
			t.Fatalf("unexpected image list: %+v", list)
		}
	})

	t.Run("export image", func(t *testing.T) {
		resp := f.get("/api/images/" + img.ID)
		requireStatus(t, resp, 200)
		got := decode[packet.PacketImage](t, resp)
		if got.Topic != "Test Topic" {
			t.Fatalf("unexpected topic %q", got.Topic)
		}
	})

	t.Run("export missing image", func(t *testing.T) {
		resp := f.get("/api/images/nope")
		requireStatus(t, resp, 404)
	})

	var inst packet.PacketInstance

	t.Run("instantiate", func(t *testing.T) {
		resp := f.postJSON("/api/packets/instantiate", map[string]string{"image_id": img.ID})
		requireStatus(t, resp, 200)
		inst = decode[packet.PacketInstance](t, resp)
		if inst.InstanceID == "" || inst.ImageID != img.ID {
			t.Fatalf("bad instance: %+v", inst)
		}
		if inst.Status != packet.StatusActive {
			t.Fatalf("expected active status, got %q", inst.Status)
		}
	})

	t.Run("list packets", func(t *testing.T) {
		resp := f.get("/api/packets")
		requireStatus(t, resp, 200)
		list := decode[[]packet.PacketInstance](t, resp)
		if len(list) != 1 {
			t.Fatalf("expected one instance, got %d", len(list))
		}
	})

	t.Run("delete packet", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/packets/"+inst.InstanceID, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		requireStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()

		// Teardown runs on the coordinator loop.
		f.coord.Sync()

		resp = f.get("/api/packets/" + inst.InstanceID)
		requireStatus(t, resp, 404)
	})
}

func TestAssetUploadAndPageRender(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON("/api/images", map[string]any{
		"topic":          "Pages",
		"source_content": sampleItems(),
	})
	requireStatus(t, resp, 200)
	img := decode[packet.PacketImage](t, resp)

	upload := func(pageID, mime string, payload []byte) *http.Response {
		req, _ := http.NewRequest(http.MethodPut,
			fmt.Sprintf("%s/api/images/%s/assets/%s", f.srv.URL, img.ID, pageID),
			bytes.NewReader(payload))
		req.Header.Set("Content-Type", mime)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return r
	}

	t.Run("upload markdown", func(t *testing.T) {
		md := "# Quiz Time\n\nPick the right answer.\n"
		resp := upload("quiz-1", "text/markdown; charset=utf-8", []byte(md))
		requireStatus(t, resp, 200)
		info := decode[storage.AssetInfo](t, resp)
		if info.Mime != "text/markdown" {
			t.Fatalf("expected stripped mime, got %q", info.Mime)
		}
	})

	t.Run("render page", func(t *testing.T) {
		resp := f.get("/pages/" + img.ID + "/quiz-1")
		requireStatus(t, resp, 200)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		html := string(body)
		if !strings.Contains(html, "<title>Quiz Time</title>") {
			t.Errorf("title not taken from first heading:\n%s", html)
		}
		if !strings.Contains(html, "<h1") {
			t.Errorf("markdown body not rendered:\n%s", html)
		}
		if !strings.Contains(html, "unlockComplete") {
			t.Errorf("completion hook missing:\n%s", html)
		}
	})

	t.Run("non-markdown asset is not a page", func(t *testing.T) {
		resp := upload("page-audio", "audio/wav", []byte{1, 2, 3, 4})
		requireStatus(t, resp, 200)
		resp.Body.Close()

		resp = f.get("/pages/" + img.ID + "/page-audio")
		requireStatus(t, resp, http.StatusUnsupportedMediaType)
	})

	t.Run("missing page", func(t *testing.T) {
		resp := f.get("/pages/" + img.ID + "/nope")
		requireStatus(t, resp, 404)
	})

	t.Run("upload to missing image", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, f.srv.URL+"/api/images/nope/assets/x", strings.NewReader("hi"))
		req.Header.Set("Content-Type", "text/markdown")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		requireStatus(t, resp, 404)
	})
}

func TestPlaybackAndPanel(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON("/api/images", map[string]any{
		"topic":          "Playback",
		"source_content": sampleItems(),
	})
	requireStatus(t, resp, 200)
	img := decode[packet.PacketImage](t, resp)

	resp = f.postJSON("/api/packets/instantiate", map[string]string{"image_id": img.ID})
	requireStatus(t, resp, 200)
	inst := decode[packet.PacketInstance](t, resp)

	t.Run("initial state", func(t *testing.T) {
		resp := f.get("/api/playback/state")
		requireStatus(t, resp, 200)
		snap := decode[map[string]any](t, resp)
		if vis, _ := snap["is_visible"].(bool); vis {
			t.Fatal("overlay visible before any playback")
		}
	})

	t.Run("intent without verb", func(t *testing.T) {
		resp := f.postJSON("/api/playback", map[string]string{})
		requireStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("play", func(t *testing.T) {
		resp := f.postJSON("/api/playback", map[string]any{
			"intent":      "play",
			"instance_id": inst.InstanceID,
			"page_id":     "page-audio",
		})
		requireStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()
		f.coord.Sync()

		resp = f.get("/api/playback/state")
		requireStatus(t, resp, 200)
		snap := decode[map[string]any](t, resp)
		if playing, _ := snap["is_playing"].(bool); !playing {
			t.Fatal("expected playing state after play intent")
		}
		if snap["instance_id"] != inst.InstanceID {
			t.Fatalf("snapshot bound to %v", snap["instance_id"])
		}
	})

	t.Run("panel projection", func(t *testing.T) {
		resp := f.get("/api/panel")
		requireStatus(t, resp, 200)
		out := decode[struct {
			Active bool               `json:"active"`
			Panel  viewmodels.PanelVM `json:"panel"`
		}](t, resp)
		if !out.Active {
			t.Fatal("expected active panel")
		}
		if out.Panel.TotalCount != 3 {
			t.Fatalf("expected 3 tracked items, got %d", out.Panel.TotalCount)
		}
		var media, external *viewmodels.Card
		for i := range out.Panel.Cards {
			switch out.Panel.Cards[i].Kind {
			case packet.KindMedia:
				media = &out.Panel.Cards[i]
			case packet.KindExternal:
				external = &out.Panel.Cards[i]
			}
		}
		if media == nil || media.Hidden {
			t.Fatal("media card must always be shown")
		}
		if external == nil || !external.Hidden {
			t.Fatal("unvisited unmentioned external card must stay hidden")
		}
	})

	t.Run("page interaction complete", func(t *testing.T) {
		resp := f.postJSON("/api/pages/complete", map[string]string{"page_id": "quiz-1"})
		requireStatus(t, resp, 200)
		resp.Body.Close()
		f.coord.Sync()

		resp = f.get("/api/packets/" + inst.InstanceID)
		requireStatus(t, resp, 200)
		got := decode[packet.PacketInstance](t, resp)
		if !got.VisitedGeneratedPageIds.Has("quiz-1") {
			t.Fatal("quiz page not recorded as visited")
		}
	})

	t.Run("status", func(t *testing.T) {
		resp := f.get("/api/status")
		requireStatus(t, resp, 200)
		st := decode[map[string]any](t, resp)
		if active, _ := st["active"].(bool); !active {
			t.Fatal("status should report an active instance")
		}
		if st["version"] != "test" {
			t.Fatalf("unexpected version %v", st["version"])
		}
	})

	t.Run("tab url validation", func(t *testing.T) {
		resp := f.postJSON("/api/tabs/url", map[string]any{"tab_id": 1})
		requireStatus(t, resp, http.StatusBadRequest)
	})
}
