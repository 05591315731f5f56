package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) state(sess *session.Session) stateResponse {
	resp := stateResponse{
		Username:   sess.Username,
		Model:      sess.Model(),
		Models:     h.models,
		Busy:       sess.Busy(),
		Turns:      render.RenderChat(sess.Conversation.Turns()),
		Notebook:   sess.Notebook.Get(),
		Curriculum: sess.Curriculum(),
	}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if resp.Curriculum != nil {
		view := render.RenderCurriculum(*resp.Curriculum)
		resp.CurriculumView = &view
	}
	return resp
}

// State returns everything needed to draw the workspace.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.state(sessionFrom(r)))
}

// Chat sends one message and returns the assistant's reply.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	turn, err := h.assistant.Chat(r.Context(), sessionFrom(r), req.Message)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, turnResponse{Turn: render.RenderChat([]domain.Turn{turn})[0]})
}

// ResetConversation starts a new conversation.
func (h *Handler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := h.assistant.NewConversation(r.Context(), sess); err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.state(sess))
}

// SetModel changes the chat model.
func (h *Handler) SetModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	if err := h.assistant.SetModel(r.Context(), sess, req.Model); err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"model": sess.Model()})
}

// Generate runs the quick generator.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	form := domain.DefaultQuickForm()
	if !readJSON(w, r, &form) {
		return
	}

	c, err := h.assistant.QuickGenerate(r.Context(), sessionFrom(r), form)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, curriculumResponse{Curriculum: c, View: render.RenderCurriculum(c)})
}

// GetNotebook returns the notebook text.
func (h *Handler) GetNotebook(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, notebookResponse{Content: sessionFrom(r).Notebook.Get()})
}

// PutNotebook replaces the notebook with the user's edit.
func (h *Handler) PutNotebook(w http.ResponseWriter, r *http.Request) {
	var req notebookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	if err := h.assistant.SetNotebook(r.Context(), sess, req.Content); err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, notebookResponse{Content: sess.Notebook.Get()})
}

// Summarize appends a summary of the conversation to the notebook.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	notes, err := h.assistant.Summarize(r.Context(), sessionFrom(r))
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, notebookResponse{Content: notes})
}

// Expand appends notes on a topic to the notebook.
func (h *Handler) Expand(w http.ResponseWriter, r *http.Request) {
	var req expandRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	notes, err := h.assistant.Expand(r.Context(), sessionFrom(r), req.Topic)
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, notebookResponse{Content: notes})
}

// Export streams one of the downloads as an attachment.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	desc, data, err := h.exporter.Build(chi.URLParam(r, "kind"), sess.Notebook.Get(), sess.Curriculum())
	if err != nil {
		writeActionError(w, r, err)
		return
	}
	WriteDownload(w, desc, data)
	slog.Debug("Export served", "user", sess.Username, "file", desc.Filename, "bytes", len(data))
}

// WriteDownload writes data as an attachment described by desc.
func WriteDownload(w http.ResponseWriter, desc render.Export, data []byte) {
	contentType := desc.ContentType
	if desc != render.CurriculumPDF {
		contentType += "; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+desc.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write download", "file", desc.Filename, "error", err)
	}
}
