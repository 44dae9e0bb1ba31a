package application

import (
	"context"
	"log/slog"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/eventing"
)

// StorageCleaner releases stored objects that certificate changes left
// behind: replaced or removed originals, and generated documents of rows that
// no longer exist.
type StorageCleaner struct {
	objects      ObjectStore
	certificates certificates.CertificateRepository
	logger       *slog.Logger
}

// NewStorageCleaner constructs a cleaner.
func NewStorageCleaner(objects ObjectStore, repo certificates.CertificateRepository, logger *slog.Logger) *StorageCleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageCleaner{objects: objects, certificates: repo, logger: logger}
}

// WireStorageCleanup subscribes the cleaner to the certificate events that
// release storage.
func WireStorageCleanup(bus eventing.Subscriber, cleaner *StorageCleaner, processed eventing.ProcessedStore) {
	if bus == nil || cleaner == nil {
		return
	}
	eventing.Subscribe(bus, eventing.EventTypeOf[certificates.TemplateSet](), "certificates.cleanup.template_set", func(ctx context.Context, event any) error {
		evt, ok := event.(certificates.TemplateSet)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return cleaner.deleteObjects(ctx, evt.CertificateID, evt.ReplacedStorageFileURL)
	}, processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[certificates.TemplateRemoved](), "certificates.cleanup.template_removed", func(ctx context.Context, event any) error {
		evt, ok := event.(certificates.TemplateRemoved)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		return cleaner.deleteObjects(ctx, evt.CertificateID, evt.StorageFileURL)
	}, processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[certificates.DataSourceSet](), "certificates.cleanup.data_source_set", func(ctx context.Context, event any) error {
		evt, ok := event.(certificates.DataSourceSet)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if evt.ReplacedDataSourceID == "" {
			return nil
		}
		if err := cleaner.deleteObjects(ctx, evt.CertificateID, evt.ReplacedStorageFileURL); err != nil {
			return err
		}
		return cleaner.deleteGenerated(ctx, evt.CertificateID)
	}, processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[certificates.DataSourceRemoved](), "certificates.cleanup.data_source_removed", func(ctx context.Context, event any) error {
		evt, ok := event.(certificates.DataSourceRemoved)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if err := cleaner.deleteObjects(ctx, evt.CertificateID, evt.StorageFileURL); err != nil {
			return err
		}
		return cleaner.deleteGenerated(ctx, evt.CertificateID)
	}, processed)
	eventing.Subscribe(bus, eventing.EventTypeOf[certificates.CertificateDeleted](), "certificates.cleanup.certificate_deleted", func(ctx context.Context, event any) error {
		evt, ok := event.(certificates.CertificateDeleted)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if err := cleaner.deleteObjects(ctx, evt.CertificateID, evt.StorageFileURLs...); err != nil {
			return err
		}
		return cleaner.objects.DeletePrefix(ctx, certificates.CertificatePrefix(evt.OwnerID, evt.CertificateID))
	}, processed)
}

func (c *StorageCleaner) deleteObjects(ctx context.Context, certificateID string, keys ...string) error {
	var live []string
	for _, key := range keys {
		if key != "" {
			live = append(live, key)
		}
	}
	if len(live) == 0 {
		return nil
	}
	if err := c.objects.Delete(ctx, live...); err != nil {
		return err
	}
	c.logger.Info("stored files released", "certificate_id", certificateID, "keys", len(live))
	return nil
}

// deleteGenerated drops every generated document of a certificate whose rows
// were replaced. A certificate deleted meanwhile is cleaned by its own event.
func (c *StorageCleaner) deleteGenerated(ctx context.Context, certificateID string) error {
	cert, err := c.certificates.Get(ctx, certificateID)
	if err != nil {
		return err
	}
	if cert == nil {
		return nil
	}
	return c.objects.DeletePrefix(ctx, certificates.CertificatePrefix(cert.OwnerID(), certificateID))
}
