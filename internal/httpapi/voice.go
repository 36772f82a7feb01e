package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/antoniostano/voicechat/internal/failure"
	"github.com/antoniostano/voicechat/internal/voice"
)

const (
	msgNoAudio       = "No audio file provided"
	msgAudioTooLarge = "Audio file too large"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in
// memory before spilling to disk.
const multipartMemory = 8 << 20

// handleProcessVoice runs one voice turn from a multipart upload with a
// required "file" part and an optional "chat_id" field.
func (s *Server) handleProcessVoice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusBadRequest, failure.KindInput, msgAudioTooLarge)
			return
		}
		respondError(w, http.StatusBadRequest, failure.KindInput, msgNoAudio)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgNoAudio)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		s.respondFailure(w, r, failure.Internal(err))
		return
	}
	if len(raw) == 0 {
		respondError(w, http.StatusBadRequest, failure.KindInput, msgNoAudio)
		return
	}

	res, err := s.orchestrator.Run(r.Context(), voice.Request{
		Audio:  raw,
		ChatID: strings.TrimSpace(r.FormValue("chat_id")),
	})
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
