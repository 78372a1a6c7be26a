package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/helper"
	"gowa-dispatch/internal/service"
)

const maxDelaySeconds = 3600

type JobService interface {
	Submit(req service.JobRequest) (string, error)
	Cancel(jobID string) error
	Status(jobID string) (service.JobSnapshot, error)
}

type JobHandler struct {
	jobs JobService
}

func NewJobHandler(jobs JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type submitJobRequest struct {
	UserID       string           `json:"userId"`
	SessionID    string           `json:"sessionId"`
	DelaySeconds int              `json:"delaySeconds"`
	Targets      []service.Target `json:"targets"`
}

// POST /api/jobs
func (h *JobHandler) Submit(c echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if strings.TrimSpace(req.UserID) == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'userId' is required", "VALIDATION_ERROR", "")
	}
	if len(req.Targets) == 0 {
		return ErrorResponse(c, http.StatusBadRequest, "At least one target is required", "VALIDATION_ERROR", "")
	}
	if req.DelaySeconds < 0 || req.DelaySeconds > maxDelaySeconds {
		return ErrorResponse(c, http.StatusBadRequest, "delaySeconds must be between 0 and 3600", "VALIDATION_ERROR", "")
	}

	return h.submit(c, service.JobRequest{
		OwnerUserID: strings.TrimSpace(req.UserID),
		SessionID:   strings.TrimSpace(req.SessionID),
		Targets:     req.Targets,
		Delay:       time.Duration(req.DelaySeconds) * time.Second,
	})
}

// POST /api/jobs/import (multipart: file, userId, sessionId, delaySeconds, message)
func (h *JobHandler) Import(c echo.Context) error {
	userID := strings.TrimSpace(c.FormValue("userId"))
	if userID == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'userId' is required", "VALIDATION_ERROR", "")
	}

	delaySeconds := 0
	if raw := strings.TrimSpace(c.FormValue("delaySeconds")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxDelaySeconds {
			return ErrorResponse(c, http.StatusBadRequest, "delaySeconds must be between 0 and 3600", "VALIDATION_ERROR", "")
		}
		delaySeconds = n
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "File is required", "FILE_REQUIRED", err.Error())
	}
	if err := helper.ValidateSheetFile(fileHeader); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid file", "INVALID_FILE", err.Error())
	}

	file, err := fileHeader.Open()
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Failed to open file", "INVALID_FILE", err.Error())
	}
	defer file.Close()

	if err := helper.CheckSheetMagicBytes(file); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid file", "INVALID_FILE", err.Error())
	}

	targets, err := service.ParseTargetSheet(file, strings.TrimSpace(c.FormValue("message")))
	if err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Failed to read targets", "INVALID_SHEET", err.Error())
	}

	return h.submit(c, service.JobRequest{
		OwnerUserID: userID,
		SessionID:   strings.TrimSpace(c.FormValue("sessionId")),
		Targets:     targets,
		Delay:       time.Duration(delaySeconds) * time.Second,
	})
}

func (h *JobHandler) submit(c echo.Context, req service.JobRequest) error {
	jobID, err := h.jobs.Submit(req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidJob) {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid job", "VALIDATION_ERROR", err.Error())
		}
		log.Error().Err(err).Str("user_id", req.OwnerUserID).Msg("failed to submit job")
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to submit job", "INTERNAL_ERROR", err.Error())
	}

	return SuccessResponse(c, http.StatusAccepted, "Job accepted", map[string]interface{}{
		"jobId":   jobID,
		"targets": len(req.Targets),
	})
}

// GET /api/jobs/:jobId
func (h *JobHandler) Status(c echo.Context) error {
	snap, err := h.jobs.Status(c.Param("jobId"))
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return ErrorResponse(c, http.StatusNotFound, "Job not found", "JOB_NOT_FOUND", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to get job", "INTERNAL_ERROR", err.Error())
	}
	return SuccessResponse(c, http.StatusOK, "Job status", snap)
}

// DELETE /api/jobs/:jobId
func (h *JobHandler) Cancel(c echo.Context) error {
	jobID := c.Param("jobId")
	if err := h.jobs.Cancel(jobID); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return ErrorResponse(c, http.StatusNotFound, "Job not found", "JOB_NOT_FOUND", "")
		}
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to cancel job", "INTERNAL_ERROR", err.Error())
	}
	return SuccessResponse(c, http.StatusOK, "Job cancellation requested", map[string]interface{}{
		"jobId": jobID,
	})
}
