package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cadforge/api/internal/library"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/pkg/response"
)

type LibraryHandler struct {
	library *library.Library
}

func NewLibraryHandler(lib *library.Library) *LibraryHandler {
	return &LibraryHandler{library: lib}
}

// scriptSummary is the browse view of a script; code is never exposed.
type scriptSummary struct {
	Org           string               `json:"org"`
	Name          string               `json:"name"`
	Version       string               `json:"version"`
	Description   string               `json:"description,omitempty"`
	Author        string               `json:"author,omitempty"`
	Engine        model.Engine         `json:"engine"`
	License       model.ContentLicense `json:"license,omitempty"`
	DefaultFormat model.ModelFormat    `json:"defaultFormat,omitempty"`
	Formats       []model.ModelFormat  `json:"formats"`
}

func summarize(s *model.ScriptDescriptor) scriptSummary {
	return scriptSummary{
		Org:           s.Org,
		Name:          s.Name,
		Version:       s.Version,
		Description:   s.Description,
		Author:        s.Author,
		Engine:        s.Engine,
		License:       s.License,
		DefaultFormat: s.DefaultFormat,
		Formats:       s.Engine.Formats(),
	}
}

// List handles GET /api/library
func (h *LibraryHandler) List(c *fiber.Ctx) error {
	scripts := h.library.List()
	summaries := make([]scriptSummary, 0, len(scripts))
	for _, s := range scripts {
		summaries = append(summaries, summarize(s))
	}
	return response.OK(c, fiber.Map{
		"scripts": summaries,
		"count":   len(summaries),
	})
}

// Get handles GET /api/library/:org/:script
func (h *LibraryHandler) Get(c *fiber.Ctx) error {
	org := c.Params("org")
	name := c.Params("script")
	version := c.Query("version")

	s, err := h.library.Lookup(org, name, version)
	if err != nil {
		return mapServiceError(c, err)
	}

	return response.OK(c, fiber.Map{
		"script":   summarize(s),
		"params":   s.Params,
		"presets":  s.Presets,
		"versions": h.library.Versions(org, name),
	})
}

// Search handles GET /api/library/search?q=
func (h *LibraryHandler) Search(c *fiber.Ctx) error {
	q := c.Query("q")
	if len(q) > 128 {
		return response.ValidationError(c, "Query too long", nil)
	}

	scripts := h.library.Search(q)
	summaries := make([]scriptSummary, 0, len(scripts))
	for _, s := range scripts {
		summaries = append(summaries, summarize(s))
	}
	return response.OK(c, fiber.Map{
		"scripts": summaries,
		"count":   len(summaries),
	})
}

// Reload handles POST /api/library/reload
func (h *LibraryHandler) Reload(c *fiber.Ctx) error {
	if err := h.library.Reload(); err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"count": h.library.Count()})
}
