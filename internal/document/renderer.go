// Package document renders certificate documents and keeps their encrypted
// bytes in a pluggable object store.
package document

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/robcowart/certseal/internal/crypto"
)

// Data holds everything printed on a certificate document
type Data struct {
	CertificateNumber  string
	TransactionID      int64
	ServiceName        string
	ServiceDescription string
	AmountCents        int64
	Currency           string
	BuyerName          string
	BuyerOrganization  string
	SellerName         string
	SellerOrganization string
	IssuedAt           time.Time
	ExpiresAt          time.Time
	VerificationHash   string
	DocumentHash       string
	VerifyURL          string
	QRCode             []byte // PNG
}

// Renderer turns certificate data into opaque document bytes
type Renderer interface {
	Render(d *Data) ([]byte, error)
}

// PDFRenderer renders A4 certificate documents
type PDFRenderer struct {
	Issuer    string
	Watermark string
}

// NewPDFRenderer creates a PDF renderer
func NewPDFRenderer(issuer string) *PDFRenderer {
	return &PDFRenderer{Issuer: issuer, Watermark: "VERIFIED"}
}

const (
	pageMargin = 20.0
	lineHeight = 7.0
	qrSize     = 45.0
)

// Render lays out the certificate: header, title, service and transaction
// details, both parties, the QR code, a legal footer and a diagonal watermark.
func (r *PDFRenderer) Render(d *Data) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("missing document data")
	}
	if len(d.QRCode) == 0 {
		return nil, fmt.Errorf("missing QR code image")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.SetTitle("Certificate "+d.CertificateNumber, true)
	pdf.SetAuthor(r.Issuer, true)
	pdf.SetCreator("certseal", true)
	pdf.SetCreationDate(d.IssuedAt.UTC())
	pdf.SetModificationDate(d.IssuedAt.UTC())

	pdf.SetFooterFunc(func() {
		pdf.SetY(-30)
		pdf.SetFont("Helvetica", "I", 7)
		pdf.SetTextColor(110, 110, 110)
		pdf.MultiCell(0, 3.5, tr(fmt.Sprintf(
			"This certificate was issued by %s and attests that the transaction above was completed. "+
				"Its authenticity and current status can be confirmed by scanning the QR code or visiting the "+
				"verification address. A certificate that has been revoked or suspended is not valid.", r.Issuer)),
			"", "C", false)
		pdf.SetFont("Helvetica", "", 6)
		pdf.CellFormat(0, 4, "Document hash: "+d.DocumentHash, "", 1, "C", false, 0, "")
	})

	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()

	r.watermark(pdf, pageW, pageH)

	// Header
	pdf.SetFillColor(24, 54, 96)
	pdf.Rect(0, 0, pageW, 28, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(pageMargin, 9)
	pdf.CellFormat(0, 10, tr(r.Issuer), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(pageMargin, 9)
	pdf.CellFormat(0, 10, d.CertificateNumber, "", 0, "R", false, 0, "")

	// Title
	pdf.SetTextColor(24, 54, 96)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetXY(pageMargin, 42)
	pdf.CellFormat(0, 12, "Certificate of Completed Transaction", "", 1, "C", false, 0, "")
	pdf.SetDrawColor(24, 54, 96)
	pdf.SetLineWidth(0.6)
	pdf.Line(pageMargin+30, pdf.GetY()+2, pageW-pageMargin-30, pdf.GetY()+2)
	pdf.Ln(10)

	section := func(title string) {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(24, 54, 96)
		pdf.CellFormat(0, lineHeight+1, tr(title), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
	}
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(48, lineHeight, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(20, 20, 20)
		pdf.CellFormat(0, lineHeight, tr(value), "", 1, "L", false, 0, "")
	}

	section("Service")
	row("Service", d.ServiceName)
	if d.ServiceDescription != "" {
		row("Description", d.ServiceDescription)
	}

	section("Transaction")
	row("Transaction", "#"+strconv.FormatInt(d.TransactionID, 10))
	row("Amount", crypto.FormatAmount(d.AmountCents)+" "+d.Currency)
	row("Issued", d.IssuedAt.UTC().Format("2 January 2006 15:04 MST"))
	row("Valid until", d.ExpiresAt.UTC().Format("2 January 2006 15:04 MST"))

	section("Parties")
	row("Buyer", partyLine(d.BuyerName, d.BuyerOrganization))
	row("Seller", partyLine(d.SellerName, d.SellerOrganization))

	// QR code and verification block
	section("Verification")
	top := pdf.GetY() + 2
	pdf.RegisterImageOptionsReader("qr", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(d.QRCode))
	pdf.ImageOptions("qr", pageMargin, top, qrSize, qrSize, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	pdf.SetXY(pageMargin+qrSize+6, top+4)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(40, 40, 40)
	pdf.MultiCell(0, 5, "Scan the code or open the address below to confirm this certificate is genuine and still valid.", "", "L", false)
	pdf.SetX(pageMargin + qrSize + 6)
	pdf.SetFont("Courier", "", 7)
	pdf.MultiCell(0, 4, d.VerifyURL, "", "L", false)
	pdf.SetX(pageMargin + qrSize + 6)
	pdf.MultiCell(0, 4, "Verification hash: "+d.VerificationHash, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) watermark(pdf *fpdf.Fpdf, pageW, pageH float64) {
	if r.Watermark == "" {
		return
	}
	pdf.SetAlpha(0.08, "Normal")
	pdf.SetFont("Helvetica", "B", 90)
	pdf.SetTextColor(24, 54, 96)
	pdf.TransformBegin()
	pdf.TransformRotate(45, pageW/2, pageH/2)
	pdf.SetXY(0, pageH/2-15)
	pdf.CellFormat(pageW, 30, r.Watermark, "", 0, "C", false, 0, "")
	pdf.TransformEnd()
	pdf.SetAlpha(1, "Normal")
}

func partyLine(name, org string) string {
	switch {
	case org == "":
		return name
	case name == "":
		return org
	default:
		return name + " (" + org + ")"
	}
}
