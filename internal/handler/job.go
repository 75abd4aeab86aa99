package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/service"
	"github.com/cadforge/api/pkg/response"
)

type JobHandler struct {
	service *service.ModelService
}

func NewJobHandler(svc *service.ModelService) *JobHandler {
	return &JobHandler{service: svc}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.JobStatus(c.Context(), jobID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, result)
}

// Result handles GET /api/jobs/:jobId/result
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.JobResult(c.Context(), jobID)
	if err != nil {
		return mapServiceError(c, err)
	}
	if result.Bundle == nil && !result.Status.Terminal() {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// Download handles GET /api/jobs/:jobId/download
func (h *JobHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}
	format := model.ModelFormat(c.Query("format"))

	url, err := h.service.DownloadURL(c.Context(), jobID, format)
	if err != nil {
		return mapServiceError(c, err)
	}
	return response.OK(c, fiber.Map{"url": url})
}
