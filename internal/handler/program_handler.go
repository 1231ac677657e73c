package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	"github.com/arkacitra/bimbel-portal-api/internal/service"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
	"github.com/arkacitra/bimbel-portal-api/pkg/response"
)

// ProgramHandler exposes the read-only program catalog.
type ProgramHandler struct {
	catalog     *service.CatalogService
	enrollments *service.EnrollmentService
}

// NewProgramHandler constructs ProgramHandler.
func NewProgramHandler(catalog *service.CatalogService, enrollments *service.EnrollmentService) *ProgramHandler {
	return &ProgramHandler{catalog: catalog, enrollments: enrollments}
}

// List godoc
// @Summary List programs
// @Tags Programs
// @Produce json
// @Param status query string false "Filter by status"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	var filter models.ProgramFilter
	filter.Status = models.ProgramStatus(strings.ToUpper(c.Query("status")))
	filter.Search = c.Query("search")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	programs, pagination, err := h.catalog.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, pagination)
}

// Get godoc
// @Summary Get a program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	program, err := h.catalog.GetProgram(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// Quote godoc
// @Summary Quote an installment plan for a program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Param installments query int true "Number of installments (1-3)"
// @Success 200 {object} response.Envelope
// @Router /programs/{id}/quote [get]
func (h *ProgramHandler) Quote(c *gin.Context) {
	installments, err := strconv.Atoi(c.DefaultQuery("installments", "1"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "installments must be a number"))
		return
	}
	quotes, err := h.enrollments.QuotePlan(c.Request.Context(), c.Param("id"), installments)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotes, nil)
}
