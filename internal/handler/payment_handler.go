package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arkacitra/bimbel-portal-api/internal/models"
	"github.com/arkacitra/bimbel-portal-api/internal/service"
	appErrors "github.com/arkacitra/bimbel-portal-api/pkg/errors"
	"github.com/arkacitra/bimbel-portal-api/pkg/response"
	"github.com/arkacitra/bimbel-portal-api/pkg/storage"
)

// PaymentHandler exposes installment payment endpoints.
type PaymentHandler struct {
	payments     *service.PaymentService
	proofs       *storage.LocalStorage
	maxProofSize int64
	allowedMIMEs []string
}

// NewPaymentHandler constructs PaymentHandler. An empty allowedMIMEs list
// accepts any proof attachment type.
func NewPaymentHandler(payments *service.PaymentService, proofs *storage.LocalStorage, maxProofSize int64, allowedMIMEs []string) *PaymentHandler {
	return &PaymentHandler{payments: payments, proofs: proofs, maxProofSize: maxProofSize, allowedMIMEs: allowedMIMEs}
}

// Submit godoc
// @Summary Submit a payment with its transfer reference and proof
// @Tags Payments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Payment ID"
// @Param reference_number formData string true "Bank transfer reference"
// @Param proof formData file true "Proof of payment"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/submit [post]
func (h *PaymentHandler) Submit(c *gin.Context) {
	h.submission(c, h.payments.Submit)
}

// Resubmit godoc
// @Summary Resubmit a rejected payment with corrected reference and proof
// @Tags Payments
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Payment ID"
// @Param reference_number formData string true "Bank transfer reference"
// @Param proof formData file true "Proof of payment"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/resubmit [post]
func (h *PaymentHandler) Resubmit(c *gin.Context) {
	h.submission(c, h.payments.Resubmit)
}

func (h *PaymentHandler) submission(c *gin.Context, apply func(ctx context.Context, paymentID string, req service.SubmitPaymentRequest) (*models.PaymentView, error)) {
	req := service.SubmitPaymentRequest{
		ReferenceNumber: c.PostForm("reference_number"),
		Actor:           actorFromContext(c),
	}

	file, header, err := c.Request.FormFile("proof")
	if err == nil {
		defer file.Close() //nolint:errcheck
		if h.maxProofSize > 0 && header.Size > h.maxProofSize {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "proof attachment exceeds the size limit"))
			return
		}
		head := make([]byte, 512)
		n, readErr := io.ReadFull(file, head)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read proof"))
			return
		}
		head = head[:n]
		if !h.proofTypeAllowed(http.DetectContentType(head)) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "proof attachment type is not allowed"))
			return
		}
		ref, saveErr := h.proofs.SaveProof(header.Filename, io.MultiReader(bytes.NewReader(head), file))
		if saveErr != nil {
			response.Error(c, appErrors.Wrap(saveErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store proof"))
			return
		}
		req.ProofRef = ref
	}

	payment, err := apply(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// proofTypeAllowed compares the sniffed media type against the configured
// allowlist, ignoring any charset parameter.
func (h *PaymentHandler) proofTypeAllowed(detected string) bool {
	if len(h.allowedMIMEs) == 0 {
		return true
	}
	mediaType := detected
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(mediaType)
	for _, allowed := range h.allowedMIMEs {
		if strings.EqualFold(strings.TrimSpace(allowed), mediaType) {
			return true
		}
	}
	return false
}

// Validate godoc
// @Summary Validate a submitted payment (admin)
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/validate [post]
func (h *PaymentHandler) Validate(c *gin.Context) {
	payment, err := h.payments.Validate(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// Reject godoc
// @Summary Reject a submitted payment with a reason (admin)
// @Tags Payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Param payload body service.RejectPaymentRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/reject [post]
func (h *PaymentHandler) Reject(c *gin.Context) {
	var req service.RejectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	payment, err := h.payments.Reject(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// History godoc
// @Summary Get a payment and its full audit trail
// @Tags Payments
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id}/history [get]
func (h *PaymentHandler) History(c *gin.Context) {
	history, err := h.payments.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
