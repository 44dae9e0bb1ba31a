package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/osteele/liquid"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/eventing"
)

// Actor is the authenticated owner issuing a request.
type Actor struct {
	ID    string
	Email string
}

// Config holds the tunables of the certificate service.
type Config struct {
	PageSize            int
	DispatchConcurrency int
	SignedURLTTL        time.Duration
	EmailSender         string
}

const (
	defaultDispatchConcurrency = 16
	defaultSignedURLTTL        = 15 * time.Minute
)

// Deps are the collaborators of the certificate service.
type Deps struct {
	Stores     Stores
	UnitOfWork UnitOfWork
	Objects    ObjectStore
	Host       DocumentHost
	Extractor  ContentExtractor
	Queue      TaskQueue
	Clock      Clock
	IDs        IDGenerator
	Logger     *slog.Logger
	Config     Config
}

// Service implements the owner-facing certificate use cases and the worker
// completion callbacks.
type Service struct {
	stores    Stores
	uow       UnitOfWork
	objects   ObjectStore
	host      DocumentHost
	extractor ContentExtractor
	queue     TaskQueue
	clock     Clock
	ids       IDGenerator
	logger    *slog.Logger
	cfg       Config
	liquid    *liquid.Engine
}

// NewService constructs a certificate service.
func NewService(d Deps) (*Service, error) {
	if d.Stores.Certificates == nil || d.Stores.Rows == nil || d.Stores.DataSets == nil || d.Stores.Emails == nil {
		return nil, errors.New("certificates: incomplete stores")
	}
	if d.UnitOfWork == nil {
		return nil, errors.New("certificates: nil unit of work")
	}
	if d.Objects == nil {
		return nil, errors.New("certificates: nil object store")
	}
	if d.Extractor == nil {
		return nil, errors.New("certificates: nil content extractor")
	}
	if d.Queue == nil {
		return nil, errors.New("certificates: nil task queue")
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDGenerator{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Config.PageSize <= 0 {
		d.Config.PageSize = certificates.DefaultPageSize
	}
	if d.Config.DispatchConcurrency <= 0 {
		d.Config.DispatchConcurrency = defaultDispatchConcurrency
	}
	if d.Config.SignedURLTTL <= 0 {
		d.Config.SignedURLTTL = defaultSignedURLTTL
	}
	return &Service{
		stores:    d.Stores,
		uow:       d.UnitOfWork,
		objects:   d.Objects,
		host:      d.Host,
		extractor: d.Extractor,
		queue:     d.Queue,
		clock:     d.Clock,
		ids:       d.IDs,
		logger:    d.Logger,
		cfg:       d.Config,
		liquid:    liquid.NewEngine(),
	}, nil
}

// CreateCertificate creates an empty draft certificate for the actor.
func (s *Service) CreateCertificate(ctx context.Context, actor Actor, name string) (*certificates.Certificate, error) {
	if actor.ID == "" {
		return nil, certificates.Authentication("missing actor")
	}
	c, events, err := certificates.NewCertificate(s.ids.NewID(), actor.ID, name, s.clock.Now())
	if err != nil {
		return nil, err
	}
	ctx = eventing.WithActorID(ctx, actor.ID)
	err = s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		if err := st.Certificates.Create(ctx, c); err != nil {
			return err
		}
		return publish(ctx, st.Events, events)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCertificate returns a certificate owned by the actor.
func (s *Service) GetCertificate(ctx context.Context, actor Actor, id string) (*certificates.Certificate, error) {
	return loadOwned(ctx, s.stores.Certificates, actor, id)
}

// ListCertificates returns every certificate of the actor.
func (s *Service) ListCertificates(ctx context.Context, actor Actor) ([]*certificates.Certificate, error) {
	if actor.ID == "" {
		return nil, certificates.Authentication("missing actor")
	}
	return s.stores.Certificates.ListByOwner(ctx, actor.ID)
}

// RenameCertificate changes the certificate name.
func (s *Service) RenameCertificate(ctx context.Context, actor Actor, id, name string) (*certificates.Certificate, error) {
	return s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		return c.Rename(name, s.clock.Now())
	})
}

// DeleteCertificate removes the certificate with its rows, data sets and
// emails. Stored files are released by the CertificateDeleted consumer.
func (s *Service) DeleteCertificate(ctx context.Context, actor Actor, id string) error {
	return s.uow.Do(eventing.WithActorID(ctx, actor.ID), func(ctx context.Context, st Stores) error {
		c, err := loadOwned(ctx, st.Certificates, actor, id)
		if err != nil {
			return err
		}
		if err := st.Rows.DeleteByCertificate(ctx, id); err != nil {
			return err
		}
		if err := st.DataSets.DeleteByCertificate(ctx, id); err != nil {
			return err
		}
		if err := st.Emails.DeleteByCertificate(ctx, id); err != nil {
			return err
		}
		if err := st.Certificates.Delete(ctx, id); err != nil {
			return err
		}
		var keys []string
		if t := c.Template(); t != nil && t.StorageFileURL != "" {
			keys = append(keys, t.StorageFileURL)
		}
		if d := c.DataSource(); d != nil && d.StorageFileURL != "" {
			keys = append(keys, d.StorageFileURL)
		}
		return publish(ctx, st.Events, []certificates.Event{certificates.CertificateDeleted{
			CertificateID:   id,
			OwnerID:         c.OwnerID(),
			StorageFileURLs: keys,
			OccurredAt:      s.clock.Now(),
		}})
	})
}

type mutation func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error)

// mutate loads the certificate inside a transaction, applies fn and persists
// the result together with its events.
func (s *Service) mutate(ctx context.Context, actor Actor, id string, fn mutation) (*certificates.Certificate, error) {
	var out *certificates.Certificate
	ctx = eventing.WithActorID(ctx, actor.ID)
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		c, err := loadOwned(ctx, st.Certificates, actor, id)
		if err != nil {
			return err
		}
		events, err := fn(ctx, st, c)
		if err != nil {
			return err
		}
		out = c
		if len(events) == 0 {
			return nil
		}
		if err := st.Certificates.Update(ctx, c); err != nil {
			return err
		}
		return publish(ctx, st.Events, events)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadOwned(ctx context.Context, repo certificates.CertificateRepository, actor Actor, id string) (*certificates.Certificate, error) {
	if actor.ID == "" {
		return nil, certificates.Authentication("missing actor")
	}
	c, err := loadCertificate(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureOwner(actor.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func loadCertificate(ctx context.Context, repo certificates.CertificateRepository, id string) (*certificates.Certificate, error) {
	if id == "" {
		return nil, certificates.Validation("certificate id required")
	}
	c, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, certificates.NotFound("certificate %s not found", id)
	}
	return c, nil
}
