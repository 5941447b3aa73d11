package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// FileQRPresenter renders pairing codes to a PNG for the operator.
type FileQRPresenter struct {
	Path string
	Size int
}

func (p *FileQRPresenter) Present(code string) {
	if p.Path == "" {
		log.Info().Str("qr", code).Msg("Link a device and paste this code")
		return
	}

	if err := p.write(code); err != nil {
		log.Error().Err(err).Str("qr", code).Msg("Error generating QR code, use the raw code")
		return
	}
	log.Info().
		Str("path", p.Path).
		Str("qr", code).
		Msg("📱 QR code written. Scan with WhatsApp > Settings > Linked Devices > Link a Device")
}

func (p *FileQRPresenter) write(code string) error {
	size := p.Size
	if size <= 0 {
		size = 512
	}
	if dir := filepath.Dir(p.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create qr directory: %w", err)
		}
	}
	return qrcode.WriteFile(code, qrcode.Medium, size, p.Path)
}
