package routes

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/unlocklabs/unlock/internal/coordinator"
	"github.com/unlocklabs/unlock/internal/packet"
	"github.com/unlocklabs/unlock/internal/storage"
)

// registerPacketRoutes covers the content side: image import/export, asset
// upload and the instantiate/list/delete lifecycle of packet instances.
func registerPacketRoutes(mux *http.ServeMux, d Deps) {

	// GET  /api/images        — list stored images
	// POST /api/images        — import an image (JSON body)
	mux.HandleFunc("/api/images", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			imgs, err := d.DB.ListImages()
			if err != nil {
				http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, imgs)
		case http.MethodPost:
			if !requireLocal(w, r) {
				return
			}
			var img packet.PacketImage
			if decodeJSON(w, r, &img) != nil {
				return
			}
			if img.ID == "" {
				fresh := packet.NewImage(img.Topic, img.SourceContent)
				img = *fresh
			}
			if err := img.Validate(); err != nil {
				http.Error(w, fmt.Sprintf("invalid image: %v", err), http.StatusBadRequest)
				return
			}
			if err := d.DB.PutImage(&img); err != nil {
				http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
				return
			}
			log.Printf("VIEWER: imported image %s (%s)", img.ID, img.Topic)
			writeJSON(w, img)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET    /api/images/{id}                  — export one image
	// DELETE /api/images/{id}                  — drop image and its assets
	// PUT    /api/images/{id}/assets/{pageID}  — upload a page asset
	mux.HandleFunc("/api/images/", func(w http.ResponseWriter, r *http.Request) {
		tail := strings.TrimPrefix(r.URL.Path, "/api/images/")
		parts := strings.SplitN(tail, "/", 3)
		id := parts[0]
		if id == "" {
			http.Error(w, "missing image id", http.StatusBadRequest)
			return
		}

		if len(parts) == 3 && parts[1] == "assets" && parts[2] != "" {
			handleAssetUpload(w, r, d, id, parts[2])
			return
		}
		if len(parts) != 1 {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			img, err := d.DB.GetImage(id)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "image not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, img)
		case http.MethodDelete:
			if !requireLocal(w, r) {
				return
			}
			if err := d.DB.DeleteImage(id); err != nil {
				http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
				return
			}
			log.Printf("VIEWER: deleted image %s", id)
			writeJSON(w, map[string]string{"status": "deleted"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// POST /api/packets/instantiate — stamp an instance from an image
	mux.HandleFunc("/api/packets/instantiate", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		var req struct {
			ImageID string `json:"image_id"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		img, err := d.DB.GetImage(req.ImageID)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "image not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}

		prefer := packet.KindMedia
		if d.Cfg != nil {
			prefer = d.Cfg.Packets.PreferredKind
		}
		inst, err := packet.Instantiate(img, prefer)
		if err != nil {
			http.Error(w, fmt.Sprintf("instantiate: %v", err), http.StatusBadRequest)
			return
		}
		if err := d.DB.PutInstance(inst); err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		log.Printf("VIEWER: instantiated %s from image %s", inst.InstanceID, img.ID)
		writeJSON(w, inst)
	})

	// GET /api/packets — list instances
	mux.HandleFunc("/api/packets", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		insts, err := d.DB.ListInstances()
		if err != nil {
			http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, insts)
	})

	// GET    /api/packets/{id}
	// DELETE /api/packets/{id} — teardown goes through the coordinator so an
	// active instance stops cleanly before the record disappears.
	mux.HandleFunc("/api/packets/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/packets/"), "/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			inst, err := d.DB.GetInstance(id)
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "packet not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, inst)
		case http.MethodDelete:
			if !requireLocal(w, r) {
				return
			}
			d.Coord.Dispatch(coordinator.Event{
				Type:       coordinator.EvPacketDelete,
				InstanceID: id,
			})
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, map[string]string{"status": "accepted"})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handleAssetUpload stores a raw page asset (narration audio or page
// markdown) for an image revision. The body is the payload, Content-Type is
// kept as the asset mime.
func handleAssetUpload(w http.ResponseWriter, r *http.Request, d Deps, imageID, pageID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requireLocal(w, r) {
		return
	}
	if _, err := d.DB.GetImage(imageID); errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "empty payload", http.StatusBadRequest)
		return
	}

	mime := r.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	info, err := d.DB.PutAsset(imageID, pageID, mime, payload)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed: %v", err), http.StatusInternalServerError)
		return
	}
	// A replaced audio payload must not serve from the old decode.
	if d.Audio != nil {
		d.Audio.Evict(imageID, pageID)
	}
	log.Printf("VIEWER: stored asset %s/%s (%s, %d bytes)", imageID, pageID, info.Mime, info.Size)
	writeJSON(w, info)
}
