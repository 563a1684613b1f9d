// Package scan wraps virus scanning of uploaded documents.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dutchcoders/go-clamd"

	"github.com/cloo-solutions/docqa/internal/domain"
)

// ErrUnavailable indicates the scanner daemon could not be reached. Callers
// treat this differently from a positive detection.
var ErrUnavailable = errors.New("virus scanner unavailable")

// Scanner checks document bytes for malware.
type Scanner interface {
	// Scan returns nil for a clean file, a domain.ErrVirusDetected wrapped
	// error on detection, and ErrUnavailable when the daemon is down.
	Scan(ctx context.Context, data []byte) error
}

// ClamAVScanner scans via a clamd daemon over its stream protocol.
type ClamAVScanner struct {
	client *clamd.Clamd
}

// NewClamAVScanner creates a new ClamAVScanner instance. address takes the
// clamd URL form, e.g. tcp://localhost:3310.
func NewClamAVScanner(address string) *ClamAVScanner {
	return &ClamAVScanner{client: clamd.NewClamd(address)}
}

// Scan implements the Scanner interface.
func (s *ClamAVScanner) Scan(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	abort := make(chan bool)
	defer close(abort)

	responses, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for response := range responses {
		switch response.Status {
		case clamd.RES_OK:
			continue
		case clamd.RES_FOUND:
			return domain.NewDomainErrorWithCause(
				domain.ErrCodeVirusDetected,
				fmt.Sprintf("virus detected: %s", response.Description),
				domain.ErrVirusDetected,
			)
		default:
			return fmt.Errorf("%w: scan returned %s (%s)", ErrUnavailable, response.Status, response.Description)
		}
	}

	return nil
}
