package web

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hurricanerix/tagweave/internal/conversation"
	"github.com/hurricanerix/tagweave/internal/pipeline"
	"github.com/hurricanerix/tagweave/internal/sanitize"
	"github.com/hurricanerix/tagweave/internal/settings"
	"github.com/hurricanerix/tagweave/internal/workflow"
)

// handleGenerate runs a mode-based picture generation.
// POST /api/generate {"mode", "subject", "user_name", "chat_id"}
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.PictureRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.GeneratePicture(r.Context(), st, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScene renders a structured scene description.
// POST /api/scene {"subject", "user_name", "json", "extra", "quiet", "chat_id"}
func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SceneRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}

	res, err := s.pipeline.GenerateScene(r.Context(), st, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleImpersonate generates the user's next message.
// POST /api/impersonate {"chat_id", "input", "prompt", "subject", "user_name"}
func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ImpersonateRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}

	text, err := s.pipeline.Impersonate(r.Context(), st, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type sanitizeRequest struct {
	Text        string `json:"text"`
	ExcludeName string `json:"exclude_name"`
}

// handleSanitize turns raw text into a prompt.
// POST /api/sanitize {"text", "exclude_name"}
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	prompt, err := sanitize.Require(req.Text, req.ExcludeName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"prompt": prompt,
		"tags":   sanitize.Tags(prompt),
	})
}

// handleComfyPing checks the ComfyUI server. A "url" in the body is tried
// instead of the saved one.
// POST /api/comfy/ping {"url"}
func (s *Server) handleComfyPing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}
	if req.URL != "" {
		st.ComfyURL = req.URL
	}

	names, err := s.pipeline.ValidateComfy(r.Context(), st)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"workflows": names,
	})
}

// handleWorkflows lists workflow templates.
// GET /api/workflows
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	names, err := s.pipeline.Workflows()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": names,
		"selected":  st.WorkflowFile,
	})
}

// handlePresets lists sampler presets.
// GET /api/presets
func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets":  s.pipeline.Presets().Names(),
		"selected": st.PresetName,
	})
}

// GET /api/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, ok := s.loadSettings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePutSettings replaces the settings, characters included.
// PUT /api/settings
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	if err := decode(w, r, &st); err != nil {
		s.fail(w, r, err)
		return
	}
	st.Normalize()

	if st.PresetName != "" {
		if _, err := s.pipeline.Presets().Lookup(st.PresetName); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if st.WorkflowFile != "" && !strings.HasSuffix(st.WorkflowFile, workflow.Extension) {
		s.fail(w, r, fmt.Errorf("%w: %q", workflow.ErrInvalidName, st.WorkflowFile))
		return
	}

	if err := s.settings.Save(r.Context(), st); err != nil {
		s.fail(w, r, err)
		return
	}

	saved, ok := s.loadSettings(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handlePutCharacter sets a character's override. An all-empty override
// removes it.
// PUT /api/characters/{id}
func (s *Server) handlePutCharacter(w http.ResponseWriter, r *http.Request) {
	var o settings.Override
	if err := decode(w, r, &o); err != nil {
		s.fail(w, r, err)
		return
	}

	id := settings.CharacterID(r.PathValue("id"))
	if err := s.settings.SaveCharacter(r.Context(), id, o); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DELETE /api/characters/{id}
func (s *Server) handleDeleteCharacter(w http.ResponseWriter, r *http.Request) {
	id := settings.CharacterID(r.PathValue("id"))
	if err := s.settings.DeleteCharacter(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/chats/{id}/messages
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	messages := s.pipeline.Chats().History(chatID)
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chat_id":  chatID,
		"active":   s.pipeline.Chats().Active() == chatID,
		"messages": messages,
	})
}

// handlePostMessage appends a chat message so later generations see it as
// context.
// POST /api/chats/{id}/messages {"name", "is_user", "is_system", "mes"}
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var msg conversation.Message
	if err := decode(w, r, &msg); err != nil {
		s.fail(w, r, err)
		return
	}

	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		s.fail(w, r, errMissingText)
		return
	}
	if len(msg.Text) > MaxMessageLength {
		s.fail(w, r, fmt.Errorf("%w: %d bytes", errTooLong, len(msg.Text)))
		return
	}
	if msg.SendDate.IsZero() {
		msg.SendDate = time.Now()
	}

	chatID := r.PathValue("id")
	index := s.pipeline.Chats().Append(chatID, msg)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"chat_id": chatID,
		"index":   index,
	})
}

// handleActivate makes the chat the active one. Images generated for any
// other chat are discarded on arrival.
// POST /api/chats/{id}/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	s.pipeline.Chats().Activate(chatID)
	writeJSON(w, http.StatusOK, map[string]string{"active": chatID})
}

// DELETE /api/chats/{id}
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Chats().Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// handleImage serves a generated image from memory.
// GET /images/{id}
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	data, info, err := s.pipeline.Images().Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/"+info.Format)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write image %s: %v", r.PathValue("id"), err)
	}
}

// handleSavedImage serves an image saved to disk.
// GET /saved/{character}/{file}
func (s *Server) handleSavedImage(w http.ResponseWriter, r *http.Request) {
	saved := s.pipeline.Saved()
	if saved == nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}

	data, err := saved.Load(r.PathValue("character") + "/" + r.PathValue("file"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write saved image: %v", err)
	}
}
