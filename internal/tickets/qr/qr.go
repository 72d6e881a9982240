package qr

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// Generator renders door QR codes that open a ticket's participation page.
type Generator struct {
	BaseURL string
	Size    int
}

func NewGenerator(baseURL string) *Generator {
	return &Generator{BaseURL: strings.TrimRight(baseURL, "/"), Size: DefaultSize}
}

// ParticipationURL is the absolute link encoded into the QR code.
func (g *Generator) ParticipationURL(ticketUUID string) (string, error) {
	id, err := uuid.Parse(ticketUUID)
	if err != nil {
		return "", fmt.Errorf("invalid ticket uuid %q: %w", ticketUUID, err)
	}
	return fmt.Sprintf("%s/api/tickets/%s/participation", g.BaseURL, url.PathEscape(id.String())), nil
}

// PNG encodes the participation URL as a PNG image.
func (g *Generator) PNG(ticketUUID string) ([]byte, error) {
	link, err := g.ParticipationURL(ticketUUID)
	if err != nil {
		return nil, err
	}
	size := g.Size
	if size <= 0 {
		size = DefaultSize
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
