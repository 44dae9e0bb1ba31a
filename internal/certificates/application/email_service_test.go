package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certgen-cloud/internal/certificates/application"
	certificates "certgen-cloud/internal/certificates/domain"
)

func emailDraft(scheduledAt *time.Time) certificates.EmailDraft {
	return certificates.EmailDraft{
		Subject:         "Your certificate, {{ name }}",
		Body:            "Hello {{ Name }}",
		RecipientColumn: "E-mail",
		ScheduledAt:     scheduledAt,
	}
}

func TestImmediateEmailPublishesCertificate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(3))

	email, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(nil))
	require.NoError(t, err)
	assert.Equal(t, certificates.ProcessingRunning, email.ProcessingStatus)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusPublished, stored.Status())

	tasks := h.queue.Emails()
	require.Len(t, tasks, 1)
	assert.Equal(t, owner.Email, tasks[0].Sender)
	assert.Equal(t, []string{"person0@example.com", "person1@example.com", "person2@example.com"}, tasks[0].Recipients)
	assert.Nil(t, tasks[0].ScheduledAt)
}

func TestScheduledEmailSchedulesCertificate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))
	at := baseTime.Add(24 * time.Hour)

	email, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&at))
	require.NoError(t, err)
	assert.Equal(t, certificates.ProcessingPending, email.ProcessingStatus)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusScheduled, stored.Status())
	require.Len(t, h.queue.Emails(), 1)
	assert.True(t, h.queue.Emails()[0].ScheduledAt.Equal(at))

	past := baseTime.Add(-time.Minute)
	_, err = h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&past))
	assert.True(t, errors.Is(err, certificates.ErrValidation))
}

func TestEmailDispatchFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))
	h.queue.failEmail = true

	_, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(nil))
	assert.ErrorIs(t, err, errQueueDown)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusDraft, stored.Status())

	emails, err := h.svc.ListEmails(ctx, owner, c.ID())
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, certificates.ProcessingFailed, emails[0].ProcessingStatus)
	assert.Equal(t, certificates.ErrorTypeDispatch, emails[0].ErrorType)
}

func TestScheduledEmailDispatchFailureRevertsToDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))
	h.queue.failEmail = true
	at := baseTime.Add(time.Hour)

	_, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&at))
	require.Error(t, err)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusDraft, stored.Status())
}

func TestScheduledEmailDispatchFailureKeepsOtherSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))
	first := baseTime.Add(time.Hour)
	second := baseTime.Add(2 * time.Hour)

	kept, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&first))
	require.NoError(t, err)

	h.queue.failEmail = true
	_, err = h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&second))
	assert.ErrorIs(t, err, errQueueDown)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusScheduled, stored.Status())

	emails, err := h.svc.ListEmails(ctx, owner, c.ID())
	require.NoError(t, err)
	require.Len(t, emails, 2)
	for _, e := range emails {
		if e.ID == kept.ID {
			assert.Equal(t, certificates.ProcessingPending, e.ProcessingStatus)
			continue
		}
		assert.Equal(t, certificates.ProcessingFailed, e.ProcessingStatus)
	}
}

func TestCreateEmailValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})

	bare, err := h.svc.CreateCertificate(ctx, owner, "Bare")
	require.NoError(t, err)
	_, err = h.svc.CreateEmail(ctx, owner, bare.ID(), emailDraft(nil))
	assert.True(t, errors.Is(err, certificates.ErrNotFound))

	table := peopleTable(3)
	table.Rows[1]["E-mail"] = "not-an-address"
	table.Rows[2]["E-mail"] = ""
	c := h.certificateWith(t, "{{ name }}", table)

	_, err = h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, certificates.ErrValidation))
	assert.Contains(t, err.Error(), "2 invalid recipient values")

	draft := emailDraft(nil)
	draft.RecipientColumn = "Phone"
	_, err = h.svc.CreateEmail(ctx, owner, c.ID(), draft)
	assert.True(t, errors.Is(err, certificates.ErrValidation))

	assert.Empty(t, h.queue.Emails())
	emails, err := h.svc.ListEmails(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestEmailOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))

	email, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(nil))
	require.NoError(t, err)

	failed, err := h.svc.MarkEmailOutcome(ctx, email.ID, certificates.ProcessingFailed)
	require.NoError(t, err)
	assert.Equal(t, certificates.ProcessingFailed, failed.ProcessingStatus)
	assert.Equal(t, certificates.ErrorTypeInternal, failed.ErrorType)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusDraft, stored.Status())

	second, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(nil))
	require.NoError(t, err)
	done, err := h.svc.MarkEmailOutcome(ctx, second.ID, certificates.ProcessingCompleted)
	require.NoError(t, err)
	assert.Equal(t, certificates.ProcessingCompleted, done.ProcessingStatus)

	stored, err = h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusPublished, stored.Status())

	_, err = h.svc.MarkEmailOutcome(ctx, second.ID, certificates.ProcessingRunning)
	assert.True(t, errors.Is(err, certificates.ErrValidation))
	_, err = h.svc.MarkEmailOutcome(ctx, "missing", certificates.ProcessingCompleted)
	assert.True(t, errors.Is(err, certificates.ErrNotFound))
}

func TestScheduledEmailCompletionPublishes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(1))
	at := baseTime.Add(time.Hour)

	email, err := h.svc.CreateEmail(ctx, owner, c.ID(), emailDraft(&at))
	require.NoError(t, err)
	_, err = h.svc.MarkEmailOutcome(ctx, email.ID, certificates.ProcessingCompleted)
	require.NoError(t, err)

	stored, err := h.svc.GetCertificate(ctx, owner, c.ID())
	require.NoError(t, err)
	assert.Equal(t, certificates.StatusPublished, stored.Status())
}

func TestPreviewEmail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, application.Config{})
	c := h.certificateWith(t, "{{ name }}", peopleTable(2))

	preview, err := h.svc.PreviewEmail(ctx, owner, c.ID(), certificates.EmailDraft{
		Subject: "Certificate for {{ name }}",
		Body:    "Sent to {{ email }}",
	})
	require.NoError(t, err)
	assert.Equal(t, "Certificate for Person 0", preview.Subject)
	assert.Equal(t, "Sent to person0@example.com", preview.Body)

	_, err = h.svc.PreviewEmail(ctx, owner, c.ID(), certificates.EmailDraft{Subject: "{% if name %}unterminated"})
	assert.True(t, errors.Is(err, certificates.ErrValidation))
}
