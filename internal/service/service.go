// Package service реализует бизнес-логику конвейера налоговых квитанций:
// машину состояний обработки платежа, генерацию квитанций и переписку с донорами.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/broker"
	"github.com/mmeshcher/donation-receipt-system/internal/docstore"
	"github.com/mmeshcher/donation-receipt-system/internal/mailer"
	"github.com/mmeshcher/donation-receipt-system/internal/model"
	"github.com/mmeshcher/donation-receipt-system/internal/repository"
	"github.com/mmeshcher/donation-receipt-system/internal/validation"
)

// ErrValidation возвращается при некорректных параметрах платежа.
var (
	ErrValidation = errors.New("invalid payment parameters")
	// ErrInvalidState возвращается, если состояние пожертвования
	// не допускает запрошенную операцию.
	ErrInvalidState = errors.New("donation state does not allow this operation")
)

const (
	conflictRetries    = 5
	conflictRetryDelay = 20 * time.Millisecond
)

// Repository описывает контракт хранилища пожертвований, используемый сервисом.
type Repository interface {
	Close() error
	GetByID(ctx context.Context, id string) (*model.Donation, error)
	FindByExternalIDAndFiscalYear(ctx context.Context, externalID string, fiscalYear int) (*model.Donation, error)
	Create(ctx context.Context, d *model.Donation) error
	Update(ctx context.Context, d *model.Donation) error
	IsReceiptNumberUnique(ctx context.Context, number string) (bool, error)
	ReserveReceiptNumber(ctx context.Context, donationID, number string) error
}

// Publisher публикует командные сообщения на шину.
type Publisher interface {
	Publish(ctx context.Context, topic broker.Topic, cmd any) error
}

// Renderer отрисовывает HTML в PDF.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// NumberAllocator выделяет номера квитанций.
type NumberAllocator interface {
	Allocate(ctx context.Context, d *model.Donation) (string, error)
}

// ContentProvider загружает шаблоны и переводы.
type ContentProvider interface {
	LoadTemplate(name string) ([]byte, error)
	LoadTranslations(locale string) (map[string]string, error)
}

// Deps перечисляет зависимости сервиса.
type Deps struct {
	Repo      Repository
	Publisher Publisher
	Renderer  Renderer
	Allocator NumberAllocator
	Content   ContentProvider
	Documents docstore.Store
	Mailer    mailer.Mailer
	Logger    *zap.Logger

	// DisableCorrespondence глобально отключает публикацию команд
	// генерации квитанций и отправки писем.
	DisableCorrespondence bool
	Locale                string
}

// Service содержит бизнес-логику сервиса квитанций.
type Service struct {
	repo      Repository
	publisher Publisher
	renderer  Renderer
	allocator NumberAllocator
	content   ContentProvider
	documents docstore.Store
	mailer    mailer.Mailer
	logger    *zap.Logger

	disableCorrespondence bool
	locale                string
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locale := deps.Locale
	if locale == "" {
		locale = "en"
	}

	return &Service{
		repo:                  deps.Repo,
		publisher:             deps.Publisher,
		renderer:              deps.Renderer,
		allocator:             deps.Allocator,
		content:               deps.Content,
		documents:             deps.Documents,
		mailer:                deps.Mailer,
		logger:                logger,
		disableCorrespondence: deps.DisableCorrespondence,
		locale:                locale,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreatePaymentParams содержит нормализованные параметры входящего платежа.
type CreatePaymentParams struct {
	Type       model.DonationType
	ExternalID string
	Donor      model.Donor

	AmountCents        int64
	ReceiptAmountCents int64
	Currency           string
	Date               time.Time
	Source             model.PaymentSource
	ExternalPaymentID  string

	EmailReceipt bool
	Reason       string

	// Simulate пропускает политику следующего шага: платёж проверяется
	// и сохраняется, но команды на шину не публикуются.
	Simulate bool

	// AwaitingFiscalYearEnd откладывает генерацию квитанции по регулярному
	// платежу до конца фискального года.
	AwaitingFiscalYearEnd bool
}

func (p *CreatePaymentParams) validate() error {
	switch p.Type {
	case model.DonationTypeOneTime, model.DonationTypeRecurrent:
	default:
		return fmt.Errorf("%w: unknown donation type %q", ErrValidation, p.Type)
	}
	if p.Type == model.DonationTypeRecurrent && p.ExternalID == "" {
		return fmt.Errorf("%w: recurrent payment requires external id", ErrValidation)
	}
	if p.Donor.LastName == "" {
		return fmt.Errorf("%w: donor last name is required", ErrValidation)
	}
	if !validation.IsValidAmount(p.AmountCents) {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !validation.IsValidReceiptAmount(p.ReceiptAmountCents) {
		return fmt.Errorf("%w: receipt amount must not be negative", ErrValidation)
	}
	if !validation.IsValidCurrency(p.Currency) {
		return fmt.Errorf("%w: invalid currency %q", ErrValidation, p.Currency)
	}
	if !validation.IsValidDate(p.Date) {
		return fmt.Errorf("%w: invalid payment date", ErrValidation)
	}
	return nil
}

// FiscalYearOf возвращает фискальный год платежа: календарный год момента,
// сдвинутого на восемь часов назад. Сдвиг защищает платежи около полуночи
// UTC 31 декабря от попадания в следующий год.
func FiscalYearOf(t time.Time) int {
	return t.UTC().Add(-8 * time.Hour).Year()
}

// CreatePayment обрабатывает входящий платёж: создаёт новое пожертвование
// или дополняет существующее регулярное, после чего применяет политику
// следующего шага. Ошибка публикации возвращается вместе с уже сохранённым
// пожертвованием: запись в хранилище не откатывается.
func (s *Service) CreatePayment(ctx context.Context, params CreatePaymentParams) (*model.Donation, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	payment := model.Payment{
		AmountCents:        params.AmountCents,
		ReceiptAmountCents: params.ReceiptAmountCents,
		Currency:           params.Currency,
		Date:               params.Date,
		Source:             params.Source,
		ExternalPaymentID:  params.ExternalPaymentID,
	}
	fiscalYear := FiscalYearOf(params.Date)

	var donation *model.Donation
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewConstant(conflictRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := s.upsertDonation(ctx, params, payment, fiscalYear)
		if err != nil {
			// Конкурентное создание или слияние: перечитываем и повторяем.
			if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrDonationExists) {
				return retry.RetryableError(err)
			}
			return err
		}
		donation = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	if params.Simulate {
		return donation, nil
	}

	if err := s.nextStep(ctx, donation, params.AwaitingFiscalYearEnd); err != nil {
		return donation, err
	}
	return donation, nil
}

func (s *Service) upsertDonation(ctx context.Context, params CreatePaymentParams, payment model.Payment, fiscalYear int) (*model.Donation, error) {
	if params.Type == model.DonationTypeRecurrent {
		existing, err := s.repo.FindByExternalIDAndFiscalYear(ctx, params.ExternalID, fiscalYear)
		if err == nil {
			// Данные донора перезаписываются последним снимком.
			existing.Donor = params.Donor
			existing.EmailReceipt = params.EmailReceipt
			existing.Payments = append(existing.Payments, payment)
			if err := s.repo.Update(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, repository.ErrDonationNotFound) {
			return nil, err
		}
	}

	d := &model.Donation{
		ID:           uuid.NewString(),
		ExternalID:   params.ExternalID,
		CreatedAt:    time.Now().UTC(),
		FiscalYear:   fiscalYear,
		Type:         params.Type,
		Donor:        params.Donor,
		Payments:     []model.Payment{payment},
		EmailReceipt: params.EmailReceipt,
		Reason:       params.Reason,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// nextStep реализует политику следующего шага после сохранения платежа.
func (s *Service) nextStep(ctx context.Context, d *model.Donation, awaitingFiscalYearEnd bool) error {
	if d.TotalReceiptAmountCents() <= 0 {
		return nil
	}
	if s.disableCorrespondence {
		return nil
	}

	// Без почтового адреса квитанция не выпускается: сначала запрашиваем
	// адрес у донора.
	if d.Donor.Address == nil {
		return s.publisher.Publish(ctx, broker.TopicSendEmail, model.SendEmailCommand{
			DonationID: d.ID,
			Type:       model.CorrespondenceNoMailingAddr,
		})
	}

	if awaitingFiscalYearEnd {
		return nil
	}

	return s.publisher.Publish(ctx, broker.TopicGeneratePDF, model.GeneratePDFCommand{
		DonationID:             d.ID,
		QueueEmailTransmission: d.EmailReceipt && d.Donor.Email != "",
	})
}

// GetDonation возвращает пожертвование по идентификатору.
func (s *Service) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	return s.repo.GetByID(ctx, id)
}

// QueueImport публикует команду пакетного импорта платежей.
func (s *Service) QueueImport(ctx context.Context, filename, format string) error {
	if _, err := rowParserFor(format); err != nil {
		return err
	}
	return s.publisher.Publish(ctx, broker.TopicBulkImport, model.BulkImportCommand{
		Filename: filename,
		Format:   format,
	})
}

// updateDonation применяет mutate к свежей копии пожертвования и сохраняет её,
// повторяя при конфликте версий.
func (s *Service) updateDonation(ctx context.Context, id string, mutate func(*model.Donation)) (*model.Donation, error) {
	var result *model.Donation
	backoff := retry.WithMaxRetries(conflictRetries, retry.NewConstant(conflictRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		mutate(d)
		if err := s.repo.Update(ctx, d); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = d
		return nil
	})
	return result, err
}
