package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/http/response"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/apierr"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/services"
)

type BrainHandler struct {
	log          *logger.Logger
	brainService services.BrainService
}

func NewBrainHandler(log *logger.Logger, bsvc services.BrainService) *BrainHandler {
	return &BrainHandler{
		log:          log.With("handler", "BrainHandler"),
		brainService: bsvc,
	}
}

// POST /api/brain/documents
// Accepts a multipart upload and returns 202 immediately; ingestion runs in
// the background. Poll GET /api/brain/documents/:id for the outcome.
func (h *BrainHandler) UploadDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field %q is required", "file"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("open uploaded file: %w", err))
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("read uploaded file: %w", err))
		return
	}

	in := services.UploadDocumentInput{
		FileName:        fileHeader.Filename,
		MimeType:        fileHeader.Header.Get("Content-Type"),
		Data:            data,
		ContentLevel:    c.PostForm("content_level"),
		AsSystemDefault: parseBool(c.PostForm("system_default")),
	}
	if v := strings.TrimSpace(c.PostForm("target_persona")); v != "" {
		in.TargetPersona = &v
	}
	if v := strings.TrimSpace(c.PostForm("teacher_id")); v != "" {
		id, pErr := uuid.Parse(v)
		if pErr != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_teacher_id", fmt.Errorf("teacher_id must be a uuid"))
			return
		}
		in.TeacherID = &id
	}
	if v := strings.TrimSpace(c.PostForm("tags")); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				in.Tags = append(in.Tags, tag)
			}
		}
	}

	doc, err := h.brainService.UploadDocument(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	response.RespondAccepted(c, gin.H{
		"document_id": doc.ID,
		"title":       doc.Title,
		"status":      doc.Status,
	})
}

// GET /api/brain/documents
func (h *BrainHandler) ListDocuments(c *gin.Context) {
	includeSystem := true
	if v := strings.TrimSpace(c.Query("include_system_defaults")); v != "" {
		includeSystem = parseBool(v)
	}

	out, err := h.brainService.ListDocuments(c.Request.Context(), services.ListDocumentsInput{
		IncludeSystemDefaults: includeSystem,
		Status:                c.Query("status"),
		Page:                  parseIntDefault(c.Query("page"), 1),
		Limit:                 parseIntDefault(c.Query("limit"), 20),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/brain/documents/:id
func (h *BrainHandler) GetDocumentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.NotFound(fmt.Errorf("document %q not found", c.Param("id"))))
		return
	}

	doc, err := h.brainService.GetDocumentStatus(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"id":            doc.ID,
		"status":        doc.Status,
		"chunk_count":   doc.ChunkCount,
		"error_message": doc.ErrorMessage,
	})
}

// DELETE /api/brain/documents/:id
func (h *BrainHandler) DeleteDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIError(c, apierr.NotFound(fmt.Errorf("document %q not found", c.Param("id"))))
		return
	}

	out, err := h.brainService.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/brain/query
func (h *BrainHandler) Query(c *gin.Context) {
	var body struct {
		Query          string   `json:"query"`
		TopK           int      `json:"top_k"`
		ScoreThreshold *float64 `json:"score_threshold"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", fmt.Errorf("invalid request body: %w", err))
		return
	}

	out, err := h.brainService.QueryBrain(c.Request.Context(), services.QueryInput{
		Query:          body.Query,
		TopK:           body.TopK,
		ScoreThreshold: body.ScoreThreshold,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseIntDefault(v string, def int) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
