package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/imaging"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/store"
)

// ItemsHandler handles the shared item endpoints.
type ItemsHandler struct {
	DB  *sql.DB
	Hub *feed.Hub
}

type createItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Terms       string `json:"terms"`
}

// Browse handles GET /api/items.
func (h *ItemsHandler) Browse(w http.ResponseWriter, r *http.Request) {
	serveView(w, r, h.DB, ViewBrowse)
}

// Mine handles GET /api/items/mine.
func (h *ItemsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	serveView(w, r, h.DB, ViewInventory)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := store.CreateItem(r.Context(), h.DB, sc.Scope(), sc.Profile, model.NewItem{
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Terms:       req.Terms,
	})
	if err != nil {
		storeError(w, err, "share item")
		return
	}

	slog.Info("item shared", "user", sc.UserID, "item", item.ID, "name", item.Name)
	h.Hub.Publish(feed.NeighborhoodTopic(sc.Scope()), feed.Event{Kind: feed.KindItemShared, ID: item.ID, Actor: sc.UserID})

	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}. The owner also sees the item's requests.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())
	id := r.PathValue("id")

	item, err := store.GetItem(r.Context(), h.DB, sc.Scope(), id)
	if err != nil {
		storeError(w, err, "get item")
		return
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return
	}

	resp := map[string]any{"item": item}
	if item.OwnerID == sc.UserID {
		reqs, err := store.ListItemRequests(r.Context(), h.DB, sc.Scope(), id)
		if err != nil {
			storeError(w, err, "get item requests")
			return
		}
		resp["requests"] = nonNil(reqs)
	}

	jsonResponse(w, http.StatusOK, resp)
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(64<<10))

	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err != nil {
		storeError(w, err, "process image")
		return
	}

	imageURL := "/api/items/" + id + "/image"
	if err := store.SetItemImage(r.Context(), h.DB, sc.Scope(), id, sc.UserID, photo.Data, photo.MIME, imageURL); err != nil {
		storeError(w, err, "save image")
		return
	}

	slog.Info("item image set", "user", sc.UserID, "item", id, "width", photo.Width, "height", photo.Height)
	h.Hub.Publish(feed.NeighborhoodTopic(sc.Scope()), feed.Event{Kind: feed.KindItemUpdated, ID: id, Actor: sc.UserID})

	jsonResponse(w, http.StatusOK, map[string]string{"image_url": imageURL})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	data, mime, err := store.GetItemImage(r.Context(), h.DB, sc.Scope(), r.PathValue("id"))
	if err != nil {
		storeError(w, err, "get image")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
