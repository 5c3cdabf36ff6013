package signalservice

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relaysig/sigrecv/internal/signalcrypto"
	"github.com/relaysig/sigrecv/internal/wire"
)

// AttachmentFetcher downloads and decrypts attachments referenced by a
// decrypted message.
type AttachmentFetcher struct {
	service Service
}

// NewAttachmentFetcher returns an AttachmentFetcher backed by service.
func NewAttachmentFetcher(service Service) *AttachmentFetcher {
	return &AttachmentFetcher{service: service}
}

// Fetch downloads and decrypts a single attachment, filling att.Data in place.
func (f *AttachmentFetcher) Fetch(ctx context.Context, att *wire.AttachmentPointer) error {
	ciphertext, err := f.service.GetAttachment(ctx, strconv.FormatUint(att.ID, 10))
	if err != nil {
		return fmt.Errorf("attachmentfetcher: download %d: %w", att.ID, err)
	}
	plaintext, err := signalcrypto.DecryptAttachment(ciphertext, att.Key)
	if err != nil {
		return fmt.Errorf("attachmentfetcher: decrypt %d: %w", att.ID, err)
	}
	att.Data = plaintext
	return nil
}

// FetchAll fetches every attachment in atts concurrently. If any fetch
// fails, FetchAll returns the first error encountered once all fetches have
// completed.
func (f *AttachmentFetcher) FetchAll(ctx context.Context, atts []*wire.AttachmentPointer) error {
	if len(atts) == 0 {
		return nil
	}
	errs := make(chan error, len(atts))
	for _, att := range atts {
		att := att
		go func() {
			errs <- f.Fetch(ctx, att)
		}()
	}
	var firstErr error
	for range atts {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
