package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/service"
	"github.com/cadforge/api/pkg/response"
)

type ModelHandler struct {
	service   *service.ModelService
	validator *validator.Validate
}

func NewModelHandler(svc *service.ModelService, v *validator.Validate) *ModelHandler {
	return &ModelHandler{
		service:   svc,
		validator: v,
	}
}

// Request handles POST /api/models/:org/:script
func (h *ModelHandler) Request(c *fiber.Ctx) error {
	var req model.ModelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	req.Org = c.Params("org")
	req.Script = c.Params("script")
	if req.Org == "" || req.Script == "" {
		return response.ValidationError(c, "Org and script are required", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RequestModel(c.Context(), &req)
	if err != nil {
		return mapServiceError(c, err)
	}

	// a result that is still computing gets 202 with the job handle
	if result.Bundle == nil && !result.Status.Terminal() {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// RequestVersion handles POST /api/models/:org/:script/:version
func (h *ModelHandler) RequestVersion(c *fiber.Ctx) error {
	var req model.ModelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}
	req.Org = c.Params("org")
	req.Script = c.Params("script")
	req.Version = c.Params("version")

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RequestModel(c.Context(), &req)
	if err != nil {
		return mapServiceError(c, err)
	}

	if result.Bundle == nil && !result.Status.Terminal() {
		return response.Accepted(c, result)
	}
	return response.OK(c, result)
}

// mapServiceError translates domain errors to response codes
func mapServiceError(c *fiber.Ctx, err error) error {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return response.ValidationError(c, verr.Error(), map[string]string{verr.Param: verr.Reason})
	}
	var derr *model.DispatchError
	if errors.As(err, &derr) {
		return response.DispatchError(c, derr.Error())
	}
	var execErr *model.ExecutionError
	if errors.As(err, &execErr) {
		return response.ExecutionError(c, execErr.Error())
	}
	switch {
	case errors.Is(err, model.ErrScriptNotFound):
		return response.NotFound(c, "Script not found")
	case errors.Is(err, model.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, model.ErrNotPublished):
		return response.NotFound(c, err.Error())
	case errors.Is(err, model.ErrUnsupportedEngine):
		return response.UnsupportedEngine(c, err.Error())
	case errors.Is(err, model.ErrUnsupportedFormat):
		return response.UnsupportedFormat(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
