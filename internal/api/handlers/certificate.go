package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/service"
)

// CertificateHandler handles operator certificate operations
type CertificateHandler struct {
	certs  *service.CertificateService
	logger *zap.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(certs *service.CertificateService, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		certs:  certs,
		logger: logger,
	}
}

// ListQuery holds pagination parameters
type ListQuery struct {
	Limit  int `form:"limit,default=50" binding:"min=1,max=500"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}

// ListCertificates lists certificates newest first
// @Summary List certificates
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} Response
// @Router /api/v1/certificates [get]
func (h *CertificateHandler) ListCertificates(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	certificates, err := h.certs.List(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		h.logger.Error("Failed to list certificates", zap.Error(err))
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, certificates)
}

// GetCertificate gets a certificate by id
// @Summary Get certificate
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} Response
// @Router /api/v1/certificates/{id} [get]
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	certificate, err := h.certs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, certificate)
}

// GetCertificateByNumber gets a certificate by its human-readable number
// @Summary Get certificate by number
// @Produce json
// @Param number path string true "Certificate number"
// @Success 200 {object} Response
// @Router /api/v1/certificates/number/{number} [get]
func (h *CertificateHandler) GetCertificateByNumber(c *gin.Context) {
	certificate, err := h.certs.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, certificate)
}

// IssueCertificateRequest represents a request to issue a certificate
type IssueCertificateRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required,gt=0"`
}

// IssueCertificate issues the certificate for a completed transaction.
// Issuing twice returns the existing certificate with 200 instead of 201.
// @Summary Issue certificate
// @Accept json
// @Produce json
// @Param request body IssueCertificateRequest true "Issuance request"
// @Success 201 {object} Response
// @Success 200 {object} Response
// @Router /api/v1/certificates [post]
func (h *CertificateHandler) IssueCertificate(c *gin.Context) {
	var req IssueCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.certs.Issue(c.Request.Context(), req.TransactionID)
	if err != nil {
		h.logger.Error("Failed to issue certificate", zap.Int64("transaction_id", req.TransactionID), zap.Error(err))
		failWith(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	ok(c, status, result)
}

// StatusChangeRequest carries the optional reason for a revocation or suspension
type StatusChangeRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// RevokeCertificate revokes a certificate
// @Summary Revoke certificate
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param request body StatusChangeRequest false "Reason"
// @Success 200 {object} Response
// @Router /api/v1/certificates/{id}/revoke [put]
func (h *CertificateHandler) RevokeCertificate(c *gin.Context) {
	h.changeStatus(c, h.certs.Revoke)
}

// SuspendCertificate suspends a valid certificate
// @Summary Suspend certificate
// @Accept json
// @Produce json
// @Param id path string true "Certificate ID"
// @Param request body StatusChangeRequest false "Reason"
// @Success 200 {object} Response
// @Router /api/v1/certificates/{id}/suspend [put]
func (h *CertificateHandler) SuspendCertificate(c *gin.Context) {
	h.changeStatus(c, h.certs.Suspend)
}

func (h *CertificateHandler) changeStatus(c *gin.Context, change func(ctx context.Context, id, reason string) (*service.CertificateStatus, error)) {
	var req StatusChangeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	certificate, err := change(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, certificate)
}

// GetMetadata returns the decrypted payment metadata of a certificate
// @Summary Certificate metadata
// @Produce json
// @Param id path string true "Certificate ID"
// @Success 200 {object} Response
// @Router /api/v1/certificates/{id}/metadata [get]
func (h *CertificateHandler) GetMetadata(c *gin.Context) {
	md, err := h.certs.Metadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to load certificate metadata", zap.String("id", c.Param("id")), zap.Error(err))
		failWith(c, err)
		return
	}
	ok(c, http.StatusOK, md)
}

// DownloadDocument streams the decrypted certificate PDF
// @Summary Download certificate document
// @Produce application/pdf
// @Param id path string true "Certificate ID"
// @Success 200 {file} binary
// @Router /api/v1/certificates/{id}/document [get]
func (h *CertificateHandler) DownloadDocument(c *gin.Context) {
	id := c.Param("id")
	pdf, err := h.certs.Document(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load certificate document", zap.String("id", id), zap.Error(err))
		failWith(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "certificate-"+id+".pdf"))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// QRQuery holds the requested QR image size
type QRQuery struct {
	Size int `form:"size" binding:"omitempty,min=64,max=2048"`
}

// GetQRCode returns the verification QR code as a PNG
// @Summary Certificate QR code
// @Produce image/png
// @Param id path string true "Certificate ID"
// @Param size query int false "Image size in pixels"
// @Success 200 {file} binary
// @Router /api/v1/certificates/{id}/qr [get]
func (h *CertificateHandler) GetQRCode(c *gin.Context) {
	var q QRQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	png, err := h.certs.QRCode(c.Request.Context(), c.Param("id"), q.Size)
	if err != nil {
		failWith(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
