package application

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

// maxReportedRecipients caps how many bad recipients a validation error names.
const maxReportedRecipients = 5

// EmailPreview is the subject and body rendered for one row.
type EmailPreview struct {
	RowID   string `json:"row_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CreateEmail records an email batch for the certificate and hands it to the
// mailing worker. An immediate email publishes the certificate once the
// dispatch succeeded. A scheduled email moves the certificate to SCHEDULED
// when it is recorded. A failed dispatch marks the email FAILED with
// DISPATCH_ERROR. A SCHEDULED certificate returns to DRAFT unless another
// scheduled email is still waiting to be sent.
func (s *Service) CreateEmail(ctx context.Context, actor Actor, id string, draft certificates.EmailDraft) (*certificates.Email, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return nil, err
	}
	rowCount, err := s.stores.Rows.Count(ctx, id, "")
	if err != nil {
		return nil, err
	}
	email, err := certificates.NewEmail(s.ids.NewID(), id, draft, c.DataSource(), rowCount, s.clock.Now())
	if err != nil {
		return nil, err
	}
	recipients, err := s.recipients(ctx, id, email.RecipientColumn)
	if err != nil {
		return nil, err
	}
	sender := actor.Email
	if sender == "" {
		sender = s.cfg.EmailSender
	}
	if sender == "" {
		return nil, certificates.Validation("no sender address available")
	}

	_, err = s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		if err := st.Emails.Create(ctx, email); err != nil {
			return nil, err
		}
		events := []certificates.Event{certificates.EmailCreated{
			CertificateID: id,
			EmailID:       email.ID,
			ScheduledAt:   email.ScheduledAt,
			OccurredAt:    s.clock.Now(),
		}}
		if email.Scheduled() {
			events = append(events, c.MarkScheduled(s.clock.Now())...)
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	mode := metrics.EmailImmediate
	if email.Scheduled() {
		mode = metrics.EmailScheduled
	}
	task := EmailTask{
		EmailID:       email.ID,
		CertificateID: id,
		Sender:        sender,
		Subject:       email.Subject,
		Body:          email.Body,
		Recipients:    recipients,
		ScheduledAt:   email.ScheduledAt,
	}
	if dispatchErr := s.queue.EnqueueEmail(ctx, task); dispatchErr != nil {
		metrics.IncEmailDispatch(mode, metrics.ResultError)
		s.logger.Error("email dispatch failed",
			"certificate_id", id,
			"email_id", email.ID,
			"error", dispatchErr,
		)
		if err := s.settleEmail(ctx, email.ID, func(ctx context.Context, st Stores, e *certificates.Email, c *certificates.Certificate) ([]certificates.Event, error) {
			if err := e.MarkFailed(certificates.ErrorTypeDispatch, s.clock.Now()); err != nil {
				return nil, err
			}
			if c.Status() != certificates.StatusScheduled {
				return nil, nil
			}
			// Another scheduled email still holds the certificate in SCHEDULED.
			waiting, err := otherScheduledEmail(ctx, st, c.ID(), e.ID)
			if err != nil || waiting {
				return nil, err
			}
			return c.RevertToDraft(s.clock.Now()), nil
		}); err != nil {
			return nil, fmt.Errorf("record email dispatch failure: %w", err)
		}
		return nil, fmt.Errorf("dispatch email %s: %w", email.ID, dispatchErr)
	}
	metrics.IncEmailDispatch(mode, metrics.ResultSuccess)

	if email.Scheduled() {
		s.logger.Info("email scheduled", "certificate_id", id, "email_id", email.ID, "scheduled_at", email.ScheduledAt)
		return email, nil
	}
	var out *certificates.Email
	err = s.settleEmail(ctx, email.ID, func(_ context.Context, _ Stores, e *certificates.Email, c *certificates.Certificate) ([]certificates.Event, error) {
		if err := e.MarkRunning(s.clock.Now()); err != nil {
			return nil, err
		}
		out = e
		return c.MarkPublished(s.clock.Now()), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("email dispatched", "certificate_id", id, "email_id", email.ID, "recipients", len(recipients))
	return out, nil
}

// ListEmails returns the emails recorded for a certificate.
func (s *Service) ListEmails(ctx context.Context, actor Actor, id string) ([]*certificates.Email, error) {
	if _, err := loadOwned(ctx, s.stores.Certificates, actor, id); err != nil {
		return nil, err
	}
	return s.stores.Emails.ListByCertificate(ctx, id)
}

// PreviewEmail renders the draft subject and body against the first row.
// Columns are bound under their own names and under their normalized names,
// so a column named "E-mail" is reachable as {{ email }}.
func (s *Service) PreviewEmail(ctx context.Context, actor Actor, id string, draft certificates.EmailDraft) (EmailPreview, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return EmailPreview{}, err
	}
	if !c.HasDataSource() {
		return EmailPreview{}, certificates.NotFound("certificate %s has no data source", id)
	}
	rows, err := s.stores.Rows.ListPage(ctx, certificates.RowQuery{CertificateID: id, Limit: 1})
	if err != nil {
		return EmailPreview{}, err
	}
	if len(rows) == 0 {
		return EmailPreview{}, certificates.Validation("no rows available to preview")
	}
	bindings := previewBindings(rows[0].Data)

	subject, err := s.render(draft.Subject, bindings)
	if err != nil {
		return EmailPreview{}, err
	}
	body, err := s.render(draft.Body, bindings)
	if err != nil {
		return EmailPreview{}, err
	}
	return EmailPreview{RowID: rows[0].ID, Subject: subject, Body: body}, nil
}

func (s *Service) render(source string, bindings map[string]any) (string, error) {
	if source == "" {
		return "", nil
	}
	tpl, err := s.liquid.ParseString(source)
	if err != nil {
		return "", certificates.Validation("invalid template: %v", err)
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", certificates.Validation("render template: %v", err)
	}
	return out, nil
}

func previewBindings(data map[string]any) map[string]any {
	bindings := make(map[string]any, len(data)*2)
	for name, value := range data {
		text := certificates.RawText(value)
		bindings[name] = text
		if key := certificates.NormalizeName(name); key != "" {
			if _, taken := bindings[key]; !taken {
				bindings[key] = text
			}
		}
	}
	return bindings
}

// recipients reads the recipient column of every row and rejects the batch
// when any value is blank or not an address.
func (s *Service) recipients(ctx context.Context, id, column string) ([]string, error) {
	values, err := s.stores.Rows.ListColumnValues(ctx, id, column)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, certificates.Validation("no rows available to email")
	}
	out := make([]string, 0, len(values))
	var invalid []string
	for _, v := range values {
		raw := strings.TrimSpace(certificates.RawText(v.Value))
		addr, err := mail.ParseAddress(raw)
		if raw == "" || err != nil {
			invalid = append(invalid, fmt.Sprintf("%s=%q", v.RowID, raw))
			continue
		}
		out = append(out, addr.Address)
	}
	if len(invalid) > 0 {
		shown := invalid
		if len(shown) > maxReportedRecipients {
			shown = shown[:maxReportedRecipients]
		}
		return nil, certificates.Validation("%d invalid recipient values in column %q: %s",
			len(invalid), column, strings.Join(shown, ", "))
	}
	return out, nil
}

type emailMutation func(ctx context.Context, st Stores, e *certificates.Email, c *certificates.Certificate) ([]certificates.Event, error)

// settleEmail applies fn to an email and its certificate in one transaction.
func (s *Service) settleEmail(ctx context.Context, emailID string, fn emailMutation) error {
	return s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		email, err := st.Emails.Get(ctx, emailID)
		if err != nil {
			return err
		}
		if email == nil {
			return certificates.NotFound("email %s not found", emailID)
		}
		c, err := loadCertificate(ctx, st.Certificates, email.CertificateID)
		if err != nil {
			return err
		}
		events, err := fn(ctx, st, email, c)
		if err != nil {
			return err
		}
		if err := st.Emails.Save(ctx, email); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := st.Certificates.Update(ctx, c); err != nil {
			return err
		}
		return publish(ctx, st.Events, events)
	})
}

// otherScheduledEmail reports whether the certificate has a scheduled email
// other than exceptID that is still waiting to be sent.
func otherScheduledEmail(ctx context.Context, st Stores, certificateID, exceptID string) (bool, error) {
	emails, err := st.Emails.ListByCertificate(ctx, certificateID)
	if err != nil {
		return false, err
	}
	for _, e := range emails {
		if e.ID != exceptID && e.AwaitingSend() {
			return true, nil
		}
	}
	return false, nil
}
