package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/broker"
	"github.com/mmeshcher/donation-receipt-system/internal/docstore"
	"github.com/mmeshcher/donation-receipt-system/internal/model"
	"github.com/mmeshcher/donation-receipt-system/internal/receiptnum"
	"github.com/mmeshcher/donation-receipt-system/internal/repository"
)

// Handlers возвращает обработчики командных сообщений для подписки брокера.
// Терминальные ошибки логируются и гасятся, чтобы сообщение не зациклилось
// на передоставке; остальные ошибки возвращаются для повторной доставки.
func (s *Service) Handlers() broker.Handlers {
	return broker.Handlers{
		GeneratePDF: s.handleGeneratePDF,
		SendEmail:   s.handleSendEmail,
		BulkImport:  s.handleBulkImport,
	}
}

func (s *Service) handleGeneratePDF(ctx context.Context, cmd model.GeneratePDFCommand) error {
	err := s.GenerateReceipt(ctx, cmd)
	if err != nil && isTerminal(err) {
		s.logger.Error("receipt generation abandoned",
			zap.String("donationID", cmd.DonationID),
			zap.Error(err))
		return nil
	}
	return err
}

func (s *Service) handleSendEmail(ctx context.Context, cmd model.SendEmailCommand) error {
	_, err := s.SendCorrespondence(ctx, cmd.DonationID, cmd.Type)
	return err
}

func (s *Service) handleBulkImport(ctx context.Context, cmd model.BulkImportCommand) error {
	err := s.ImportPayments(ctx, cmd)
	if err != nil && isTerminal(err) {
		s.logger.Error("import abandoned",
			zap.String("filename", cmd.Filename),
			zap.Error(err))
		return nil
	}
	return err
}

// isTerminal сообщает, что повторная доставка не поможет: объект отсутствует,
// данные некорректны или ресурс исчерпан.
func isTerminal(err error) bool {
	return errors.Is(err, repository.ErrDonationNotFound) ||
		errors.Is(err, docstore.ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, receiptnum.ErrExhausted)
}
