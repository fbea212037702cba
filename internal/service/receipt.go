package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/broker"
	"github.com/mmeshcher/donation-receipt-system/internal/model"
	"github.com/mmeshcher/donation-receipt-system/internal/repository"
)

// reserveAttempts ограничивает число попыток зарезервировать номер квитанции
// при проигрыше гонки за номер.
const reserveAttempts = 3

// GenerateReceipt обрабатывает команду генерации PDF-квитанции: выделяет
// номер, отрисовывает документ, сохраняет его и при необходимости ставит
// в очередь отправку письма донору.
func (s *Service) GenerateReceipt(ctx context.Context, cmd model.GeneratePDFCommand) error {
	d, err := s.repo.GetByID(ctx, cmd.DonationID)
	if err != nil {
		return fmt.Errorf("load donation: %w", err)
	}

	number, err := s.reserveNumber(ctx, d)
	if err != nil {
		return err
	}

	html, err := s.renderReceiptHTML(d, number)
	if err != nil {
		return err
	}

	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		return err
	}

	doc := model.DocumentMetadata{
		ID:          number,
		CreatedAt:   time.Now().UTC(),
		Filename:    number + ".pdf",
		Description: fmt.Sprintf("Tax receipt for fiscal year %d", d.FiscalYear),
	}

	if err := s.documents.Save(ctx, doc.Filename, pdf); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	if _, err := s.updateDonation(ctx, d.ID, func(fresh *model.Donation) {
		fresh.Documents = append(fresh.Documents, doc)
	}); err != nil {
		return fmt.Errorf("attach document: %w", err)
	}

	s.logger.Info("receipt generated",
		zap.String("donationID", d.ID),
		zap.String("receiptNumber", number))

	if cmd.QueueEmailTransmission {
		return s.publisher.Publish(ctx, broker.TopicSendEmail, model.SendEmailCommand{
			DonationID: d.ID,
			Type:       model.CorrespondenceThankYou,
		})
	}
	return nil
}

// reserveNumber выделяет и резервирует номер квитанции. Проигрыш гонки
// за конкретный номер разрешается повторным выделением.
func (s *Service) reserveNumber(ctx context.Context, d *model.Donation) (string, error) {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		number, err := s.allocator.Allocate(ctx, d)
		if err != nil {
			return "", fmt.Errorf("allocate receipt number: %w", err)
		}

		err = s.repo.ReserveReceiptNumber(ctx, d.ID, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, repository.ErrReceiptNumberTaken) {
			return "", fmt.Errorf("reserve receipt number: %w", err)
		}

		s.logger.Warn("receipt number lost to concurrent reservation",
			zap.String("donationID", d.ID),
			zap.String("receiptNumber", number))
	}
	return "", fmt.Errorf("reserve receipt number: %w", repository.ErrReceiptNumberTaken)
}

type receiptTemplateData struct {
	Donation *model.Donation
	Number   string
	IssuedAt string
	T        map[string]string
}

func (s *Service) renderReceiptHTML(d *model.Donation, number string) (string, error) {
	raw, err := s.content.LoadTemplate("receipt.html")
	if err != nil {
		return "", fmt.Errorf("load receipt template: %w", err)
	}

	translations, err := s.content.LoadTranslations(s.locale)
	if err != nil {
		return "", fmt.Errorf("load translations: %w", err)
	}

	tmpl, err := template.New("receipt").Funcs(templateFuncs()).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse receipt template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, receiptTemplateData{
		Donation: d,
		Number:   number,
		IssuedAt: time.Now().UTC().Format("2006-01-02"),
		T:        translations,
	})
	if err != nil {
		return "", fmt.Errorf("execute receipt template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatCents": func(cents int64) string {
			return fmt.Sprintf("%d.%02d", cents/100, cents%100)
		},
	}
}
