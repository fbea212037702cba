package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/mailer"
	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

// SendCorrespondence отправляет донору письмо указанного типа и фиксирует
// его жизненный цикл. Запись о письме сохраняется в статусе created до
// попытки доставки; итоговый статус фиксируется и при отказе доставки,
// а сама ошибка доставки возвращается вызывающему.
func (s *Service) SendCorrespondence(ctx context.Context, donationID string, ctype model.CorrespondenceType) (result *model.Correspondence, err error) {
	d, err := s.repo.GetByID(ctx, donationID)
	if err != nil {
		return nil, fmt.Errorf("load donation: %w", err)
	}

	if !d.EmailReceipt {
		return nil, fmt.Errorf("%w: donor did not consent to email", ErrInvalidState)
	}
	if d.Donor.Email == "" {
		return nil, fmt.Errorf("%w: donor has no email address", ErrInvalidState)
	}

	// Для благодарственного письма вкладывается последний созданный документ.
	var attachmentIDs []string
	if ctype == model.CorrespondenceThankYou {
		doc := d.LatestDocument()
		if doc == nil {
			return nil, fmt.Errorf("%w: donation has no receipt document", ErrInvalidState)
		}
		attachmentIDs = []string{doc.ID}
	}

	corr := model.Correspondence{
		ID:            uuid.NewString(),
		Date:          time.Now().UTC(),
		Recipient:     d.Donor.Email,
		Type:          ctype,
		AttachmentIDs: attachmentIDs,
		Status:        model.CorrespondenceStatusCreated,
	}

	if _, err := s.updateDonation(ctx, d.ID, func(fresh *model.Donation) {
		fresh.Correspondence = append(fresh.Correspondence, corr)
	}); err != nil {
		return nil, fmt.Errorf("persist correspondence: %w", err)
	}

	// Итоговый статус фиксируется в хранилище независимо от исхода
	// доставки, чтобы след остался даже при сбое на отправке.
	status := model.CorrespondenceStatusError
	defer func() {
		corr.Status = status
		if _, ferr := s.updateDonation(ctx, d.ID, func(fresh *model.Donation) {
			for i := range fresh.Correspondence {
				if fresh.Correspondence[i].ID == corr.ID {
					fresh.Correspondence[i].Status = status
				}
			}
		}); ferr != nil {
			s.logger.Error("finalize correspondence status",
				zap.String("donationID", d.ID),
				zap.String("correspondenceID", corr.ID),
				zap.Error(ferr))
		}
		result = &corr
	}()

	subject, html, err := s.renderEmail(d, ctype)
	if err != nil {
		return nil, err
	}

	attachments, err := s.loadAttachments(ctx, d, attachmentIDs)
	if err != nil {
		return nil, err
	}

	if err := s.mailer.Send(ctx, mailer.Message{
		To:          d.Donor.Email,
		Subject:     subject,
		HTML:        html,
		Attachments: attachments,
	}); err != nil {
		return nil, fmt.Errorf("deliver email: %w", err)
	}

	status = model.CorrespondenceStatusSent
	return &corr, nil
}

func (s *Service) renderEmail(d *model.Donation, ctype model.CorrespondenceType) (subject, html string, err error) {
	raw, err := s.content.LoadTemplate("email/" + string(ctype) + ".html")
	if err != nil {
		return "", "", fmt.Errorf("load email template: %w", err)
	}

	translations, err := s.content.LoadTranslations(s.locale)
	if err != nil {
		return "", "", fmt.Errorf("load translations: %w", err)
	}

	tmpl, err := template.New("email").Funcs(templateFuncs()).Parse(string(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse email template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Donation *model.Donation
		T        map[string]string
	}{Donation: d, T: translations})
	if err != nil {
		return "", "", fmt.Errorf("execute email template: %w", err)
	}

	subject = translations["subject."+string(ctype)]
	if subject == "" {
		subject = string(ctype)
	}
	return subject, buf.String(), nil
}

func (s *Service) loadAttachments(ctx context.Context, d *model.Donation, ids []string) ([]mailer.Attachment, error) {
	attachments := make([]mailer.Attachment, 0, len(ids))
	for _, id := range ids {
		var filename string
		for _, doc := range d.Documents {
			if doc.ID == id {
				filename = doc.Filename
				break
			}
		}
		if filename == "" {
			return nil, fmt.Errorf("%w: document %s is not attached to donation", ErrInvalidState, id)
		}

		data, err := s.documents.Load(ctx, filename)
		if err != nil {
			return nil, fmt.Errorf("load attachment %s: %w", filename, err)
		}
		attachments = append(attachments, mailer.Attachment{Filename: filename, Data: data})
	}
	return attachments, nil
}
