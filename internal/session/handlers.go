package session

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/splitbill/internal/bill"
	"github.com/zombor/splitbill/internal/settle"
)

const maxUploadSize = int64(50 << 20)

type itemView struct {
	bill.Item
	Total string `json:"total"`
	// Share is what each assigned person pays for this item.
	Share string `json:"share,omitempty"`
}

type sessionView struct {
	ID           string           `json:"id"`
	Step         bill.Step        `json:"step"`
	FurthestStep bill.Step        `json:"furthestStep"`
	Items        []itemView       `json:"items"`
	People       []bill.Person    `json:"people"`
	Assignments  map[string][]int `json:"assignments"`
	Total        string           `json:"total"`
	Image        *Image           `json:"image"`
	Scanning     bool             `json:"scanning"`
	ScanStatus   string           `json:"scanStatus,omitempty"`
}

func newSessionView(v View) sessionView {
	out := sessionView{
		ID:           v.ID,
		Step:         v.State.Step,
		FurthestStep: v.State.Furthest,
		Items:        make([]itemView, 0, len(v.State.Items)),
		People:       v.State.People,
		Assignments:  make(map[string][]int, len(v.State.Assignments)),
		Total:        v.State.Total().StringFixed(2),
		Image:        v.Image,
		Scanning:     v.Scanning,
		ScanStatus:   v.ScanStatus,
	}
	for _, item := range v.State.Items {
		total := item.Total()
		iv := itemView{Item: item, Total: total.StringFixed(2)}
		if n := len(v.State.Assignments[item.ID]); n > 0 {
			iv.Share = settle.ItemShare(total, n).StringFixed(2)
		}
		out.Items = append(out.Items, iv)
	}
	for itemID, personIDs := range v.State.Assignments {
		out.Assignments[strconv.Itoa(itemID)] = personIDs
	}
	return out
}

type shareView struct {
	PersonID int    `json:"personId"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
	Display  string `json:"display"`
}

type summaryView struct {
	Total  string      `json:"total"`
	Shares []shareView `json:"shares"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *bill.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Message, http.StatusUnprocessableEntity)
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, bill.ErrItemNotFound),
		errors.Is(err, bill.ErrPersonNotFound),
		errors.Is(err, ErrNoImage):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrScanInProgress):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, bill.ErrEmptyName),
		errors.Is(err, bill.ErrInvalidQuantity),
		errors.Is(err, bill.ErrUnknownStep),
		errors.Is(err, bill.ErrStepNotReached),
		errors.Is(err, bill.ErrStepBehind):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Error handling request", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) respond(w http.ResponseWriter, code int, v View, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, code, newSessionView(v))
}

// pathInt reads a numeric path segment.
func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		writeError(w, name+" must be a number", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// update runs a bill operation and writes the resulting session.
func (s *Server) update(w http.ResponseWriter, r *http.Request, op string, code int, fn func(*bill.Store) error) {
	v, err := s.service.Update(r.Context(), r.PathValue("id"), op, fn)
	s.respond(w, code, v, err)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Create(r.Context())
	s.respond(w, http.StatusCreated, v, err)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Get(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, v, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Reset(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, v, err)
}

// contentTypeFor guesses a MIME type from the file extension.
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, msg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	v, err := s.service.UploadImage(r.Context(), r.PathValue("id"), header.Filename, data, contentType)
	s.respond(w, http.StatusCreated, v, err)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.ImageData(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.DeleteImage(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, v, err)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Scan(r.Context(), r.PathValue("id"))
	s.respond(w, http.StatusOK, v, err)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "skip", http.StatusOK, func(store *bill.Store) error {
		store.SkipScan()
		return nil
	})
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "add_item", http.StatusCreated, func(store *bill.Store) error {
		store.AddItem()
		return nil
	})
}

type itemUpdateRequest struct {
	Label *string `json:"label"`
	Price *string `json:"price"`
	Qty   *int    `json:"qty"`
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	var req itemUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.update(w, r, "update_item", http.StatusOK, func(store *bill.Store) error {
		_, err := store.UpdateItem(itemID, bill.ItemUpdate{Label: req.Label, Price: req.Price, Qty: req.Qty})
		return err
	})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	s.update(w, r, "remove_item", http.StatusOK, func(store *bill.Store) error {
		return store.RemoveItem(itemID)
	})
}

func (s *Server) handleDuplicateItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	s.update(w, r, "duplicate_item", http.StatusCreated, func(store *bill.Store) error {
		_, err := store.DuplicateItem(itemID)
		return err
	})
}

type personRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.update(w, r, "add_person", http.StatusCreated, func(store *bill.Store) error {
		_, err := store.AddPerson(req.Name)
		return err
	})
}

func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	personID, ok := pathInt(w, r, "personID")
	if !ok {
		return
	}
	s.update(w, r, "remove_person", http.StatusOK, func(store *bill.Store) error {
		return store.RemovePerson(personID)
	})
}

type assignmentRequest struct {
	PersonIDs []int `json:"personIds"`
}

func (s *Server) handleSetAssignment(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	var req assignmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.update(w, r, "set_assignment", http.StatusOK, func(store *bill.Store) error {
		return store.SetAssignment(itemID, req.PersonIDs)
	})
}

func (s *Server) handleAssignAll(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	s.update(w, r, "assign_all", http.StatusOK, func(store *bill.Store) error {
		return store.AssignAll(itemID)
	})
}

func (s *Server) handleAssignNone(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	s.update(w, r, "assign_none", http.StatusOK, func(store *bill.Store) error {
		return store.AssignNone(itemID)
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(w, r, "itemID")
	if !ok {
		return
	}
	personID, ok := pathInt(w, r, "personID")
	if !ok {
		return
	}
	s.update(w, r, "toggle", http.StatusOK, func(store *bill.Store) error {
		return store.Toggle(itemID, personID)
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "next", http.StatusOK, (*bill.Store).Next)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, "back", http.StatusOK, (*bill.Store).Back)
}

type stepRequest struct {
	Step string `json:"step"`
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	step, ok := bill.ParseStep(req.Step)
	if !ok {
		writeError(w, "unknown step: "+req.Step, http.StatusBadRequest)
		return
	}
	s.update(w, r, "goto", http.StatusOK, func(store *bill.Store) error {
		if step.Index() > store.Step().Index() {
			return store.Advance(step)
		}
		return store.GoBack(step)
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Summarize(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := summaryView{Total: summary.Total.StringFixed(2), Shares: make([]shareView, 0, len(summary.Shares))}
	for _, share := range summary.Shares {
		out.Shares = append(out.Shares, shareView{
			PersonID: share.Person.ID,
			Name:     share.Person.Name,
			Amount:   share.Amount.StringFixed(2),
			Display:  s.service.FormatAmount(share.Amount),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	text, err := s.service.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}
