package qrcode

import (
	"errors"
	"strings"

	qr "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	maxSize     = 1024
)

var ErrEmptyLink = errors.New("claim link is empty")

// ClaimLinkURL joins the public base URL and a relative claim path such as
// "/packages?coupon=CODE".
func ClaimLinkURL(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

// PNG encodes link as a medium-recovery QR code.
func PNG(link string, size int) ([]byte, error) {
	if strings.TrimSpace(link) == "" {
		return nil, ErrEmptyLink
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > maxSize {
		size = maxSize
	}
	return qr.Encode(link, qr.Medium, size)
}
