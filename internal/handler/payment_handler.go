package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/service"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
	"github.com/noah-isme/lms-core-api/pkg/response"
)

// PaymentHandler exposes the enrollment payment workflow.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type submitPaymentPayload struct {
	CourseID string `json:"course_id" binding:"required"`
	Amount   int64  `json:"amount"`
}

type rejectPaymentPayload struct {
	Reason string `json:"reason" binding:"required"`
}

// Submit godoc
// @Summary Submit an enrollment payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body submitPaymentPayload true "Payment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload submitPaymentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payment payload"))
		return
	}

	payment, err := h.payments.Submit(c.Request.Context(), service.SubmitPaymentRequest{
		StudentID: claims.UserID,
		CourseID:  payload.CourseID,
		Amount:    payload.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Verify godoc
// @Summary Verify a pending payment
// @Description Completes the payment and grants the course entitlement. Admin only.
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/verify [post]
func (h *PaymentHandler) Verify(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payment, err := h.payments.Verify(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Reject godoc
// @Summary Reject a pending payment
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body rejectPaymentPayload true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/{id}/reject [post]
func (h *PaymentHandler) Reject(c *gin.Context) {
	var payload rejectPaymentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}

	payment, err := h.payments.Reject(c.Request.Context(), c.Param("id"), payload.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// EnrollFree godoc
// @Summary Enroll into a free course
// @Tags Payments
// @Produce json
// @Param id path string true "Course ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /courses/{id}/enroll [post]
func (h *PaymentHandler) EnrollFree(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.payments.EnrollFree(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List payments
// @Description Admin verification queue with filters and pagination.
// @Tags Payments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	var filter models.PaymentFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	filter.Status = models.PaymentStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	payments, pagination, err := h.payments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}
