// Package badge renders the attendee credential: a QR code carrying the
// registration identity, embedded in a one-page PDF badge.
package badge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/exjam-alumni/eventreg/internal/model"
	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// ErrInvalidQR is returned when scanned QR data cannot be decoded.
var ErrInvalidQR = errors.New("invalid QR data")

// QRPayload is the JSON document encoded in the badge QR code and accepted
// back by check-in.
type QRPayload struct {
	RegistrationID string `json:"registrationId"`
	UserID         string `json:"userId"`
	EventID        string `json:"eventId"`
	TicketID       string `json:"ticketId"`
}

// PayloadFor builds the QR payload for a registration.
func PayloadFor(r *model.Registration) QRPayload {
	return QRPayload{
		RegistrationID: r.ID,
		UserID:         r.UserID,
		EventID:        r.EventID,
		TicketID:       r.TicketID,
	}
}

// Encode returns the QR payload as a JSON string.
func (p QRPayload) Encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// DecodeQR parses scanned QR data. At least one of registrationId or
// ticketId must be present.
func DecodeQR(raw string) (QRPayload, error) {
	var p QRPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return QRPayload{}, ErrInvalidQR
	}
	if p.RegistrationID == "" && p.TicketID == "" {
		return QRPayload{}, ErrInvalidQR
	}
	return p, nil
}

// QRCode renders the payload as a PNG.
func QRCode(p QRPayload, size int) ([]byte, error) {
	png, err := qrcode.Encode(p.Encode(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// RenderPDF produces an A6 badge for a confirmed registration.
func RenderPDF(ev *model.Event, reg *model.Registration) ([]byte, error) {
	qr, err := QRCode(PayloadFor(reg), 256)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A6", "")
	pdf.SetMargins(8, 8, 8)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "EXJAM ALUMNI ASSOCIATION", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, ev.Title, "", "C", false)
	pdf.CellFormat(0, 6, ev.StartsAt.Format("Mon 02 Jan 2006 15:04"), "", 1, "C", false, 0, "")

	pdf.SetDrawColor(220, 220, 220)
	pdf.Line(8, pdf.GetY()+2, 97, pdf.GetY()+2)
	pdf.Ln(5)

	pdf.RegisterImageOptionsReader("qr", gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(qr))
	pdf.ImageOptions("qr", 27.5, pdf.GetY(), 50, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")
	pdf.SetY(pdf.GetY() + 53)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, reg.TicketID, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("%s ticket", reg.TicketType), "", 1, "C", false, 0, "")
	if reg.UserEmail != "" {
		pdf.CellFormat(0, 6, reg.UserEmail, "", 1, "C", false, 0, "")
	}

	pdf.SetY(140)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(0, 5, "Present this badge at the check-in desk.", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render badge: %w", err)
	}
	return buf.Bytes(), nil
}
