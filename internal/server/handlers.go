package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fmueller/voxhub/internal/apperr"
	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/gin-gonic/gin"
)

const (
	audioField = "audio"
	uploadHint = "Please upload an audio file"
)

// accepted upload extensions
var audioExtensions = map[string]bool{
	".wav": true,
	".mp3": true,
	".m4a": true,
	".ogg": true,
}

func (s *Server) handleSession(c *gin.Context) {
	stats := s.svc.Stats()
	c.JSON(http.StatusOK, gin.H{
		"session":             sessionID(c),
		"sweeps":              s.gate.Scans(),
		"cached_models":       stats.Models.Entries,
		"cached_transcripts":  stats.Transcripts.Entries,
		"max_upload":          humanize.Bytes(uint64(s.opts.MaxUploadBytes)),
		"transcript_hits":     stats.Transcripts.Hits,
		"transcript_computes": stats.Transcripts.Computes,
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	name, data, err := readAudioPart(c)
	if err != nil {
		respondError(c, err)
		return
	}

	artifact, err := s.svc.StoreArtifact(c.Request.Context(), sessionID(c), name, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": artifact.FileName, "size": humanize.Bytes(uint64(artifact.Size))})
}

func (s *Server) handleRecord(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	artifact, err := s.svc.StoreArtifact(c.Request.Context(), sessionID(c), workspace.RecordedFileName, data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": artifact.FileName, "size": humanize.Bytes(uint64(artifact.Size))})
}

// handleTranscribe transcribes the uploaded "audio" part, or, without one, a
// file stored earlier in the session named by the "file" form field.
func (s *Server) handleTranscribe(c *gin.Context) {
	name, data, err := readAudioPart(c)
	if errors.Is(err, errNoAudioPart) {
		if stored := strings.TrimSpace(c.PostForm("file")); stored != "" {
			name = stored
			data, err = s.svc.ReadArtifact(sessionID(c), stored)
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}

	model, err := s.requestedModel(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := s.svc.TranscribeForSession(c.Request.Context(), transcribe.Request{
		SessionID: sessionID(c),
		FileName:  name,
		Audio:     data,
		Model:     model,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":     result.Text,
		"blank":    transcribe.IsBlank(result.Text),
		"model":    result.Model,
		"cached":   result.Cached,
		"download": "/api/download?" + url.Values{"file": {filepath.Base(result.AudioPath)}, "model": {result.Model}}.Encode(),
		"filename": result.DownloadName,
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	file := c.Query("file")
	text, ok := s.svc.CachedTranscript(sessionID(c), file, c.Query("model"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No transcript for " + file})
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": transcribe.DownloadName(file)})
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// handleAudio plays back a file stored in the session's workspace.
func (s *Server) handleAudio(c *gin.Context) {
	file := c.Query("file")
	data, err := s.svc.ReadArtifact(sessionID(c), file)
	if err != nil {
		respondError(c, err)
		return
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(file)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, data)
}

// requestedModel returns the "model" form field when the server offers that
// model. An empty field selects the default model.
func (s *Server) requestedModel(c *gin.Context) (string, error) {
	model := strings.TrimSpace(c.PostForm("model"))
	if model == "" || s.models[model] {
		return model, nil
	}

	offered := make([]string, 0, len(s.models))
	for name := range s.models {
		offered = append(offered, name)
	}
	slices.Sort(offered)
	return "", apperr.Missing("select model", fmt.Sprintf("model %q is not available; choose one of: %s", model, strings.Join(offered, ", ")))
}

// errNoAudioPart marks a request that carries no "audio" file at all, as
// opposed to one carrying an unusable file.
var errNoAudioPart = apperr.Missing("read upload", uploadHint)

func readAudioPart(c *gin.Context) (string, []byte, error) {
	header, err := c.FormFile(audioField)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil, errNoAudioPart
	}
	if err != nil {
		return "", nil, err
	}

	if !audioExtensions[strings.ToLower(filepath.Ext(header.Filename))] {
		return "", nil, apperr.Missing("read upload", "unsupported audio type "+filepath.Ext(header.Filename)+"; use wav, mp3, m4a or ogg")
	}

	data, err := readPart(header)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, apperr.Missing("read upload", uploadHint)
	}
	return header.Filename, data, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload exceeds " + humanize.Bytes(uint64(tooLarge.Limit))})
		return
	}

	status := apperr.HTTPStatus(err)
	message := "Internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind == apperr.InputMissing && appErr.Err != nil {
		message = appErr.Err.Error()
	} else if status == http.StatusBadGateway {
		message = "Transcription failed, please try again"
	}
	c.JSON(status, gin.H{"error": message, "kind": string(apperr.KindOf(err))})
}
