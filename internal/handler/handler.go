// Package handler содержит HTTP-обработчики API сервиса квитанций.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
	"github.com/mmeshcher/donation-receipt-system/internal/repository"
	"github.com/mmeshcher/donation-receipt-system/internal/service"
	"github.com/mmeshcher/donation-receipt-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreatePayment(ctx context.Context, params service.CreatePaymentParams) (*model.Donation, error)
	GetDonation(ctx context.Context, id string) (*model.Donation, error)
	SendCorrespondence(ctx context.Context, donationID string, ctype model.CorrespondenceType) (*model.Correspondence, error)
	QueueImport(ctx context.Context, filename, format string) error
}

// IPNVerifier проверяет подлинность IPN-уведомлений PayPal.
type IPNVerifier interface {
	VerifyIPN(ctx context.Context, body []byte) (bool, error)
}

// Handler реализует HTTP-обработчики API сервиса квитанций.
type Handler struct {
	service Service
	ipn     IPNVerifier
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, ipn IPNVerifier, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		ipn:     ipn,
		logger:  logger,
	}
}

type paymentRequest struct {
	Type       string      `json:"type"`
	ExternalID string      `json:"externalId"`
	Donor      model.Donor `json:"donor"`

	Amount        float64 `json:"amount"`
	ReceiptAmount float64 `json:"receiptAmount"`
	Currency      string  `json:"currency"`
	Date          string  `json:"date"`
	Source        string  `json:"source"`

	ExternalPaymentID     string `json:"externalPaymentId"`
	EmailReceipt          bool   `json:"emailReceipt"`
	Reason                string `json:"reason"`
	AwaitingFiscalYearEnd bool   `json:"awaitingFiscalYearEnd"`
}

func (req *paymentRequest) toParams() (service.CreatePaymentParams, error) {
	if !validation.IsFiniteAmount(req.Amount) || !validation.IsFiniteAmount(req.ReceiptAmount) {
		return service.CreatePaymentParams{}, errors.New("amount out of range")
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		date, err = time.Parse("2006-01-02", req.Date)
	}
	if err != nil {
		return service.CreatePaymentParams{}, err
	}

	return service.CreatePaymentParams{
		Type:                  model.DonationType(req.Type),
		ExternalID:            req.ExternalID,
		Donor:                 req.Donor,
		AmountCents:           validation.ToCents(req.Amount),
		ReceiptAmountCents:    validation.ToCents(req.ReceiptAmount),
		Currency:              req.Currency,
		Date:                  date,
		Source:                model.PaymentSource(req.Source),
		ExternalPaymentID:     req.ExternalPaymentID,
		EmailReceipt:          req.EmailReceipt,
		Reason:                req.Reason,
		AwaitingFiscalYearEnd: req.AwaitingFiscalYearEnd,
	}, nil
}

// CreatePayment принимает платёж. Параметр запроса simulate=true проводит
// платёж через проверки и сохранение без постановки команд в очередь.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	params, err := req.toParams()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	params.Simulate = r.URL.Query().Get("simulate") == "true"

	donation, err := h.service.CreatePayment(r.Context(), params)
	if err != nil {
		h.writeError(w, err, "create payment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(donation); err != nil {
		h.logger.Error("encode donation", zap.Error(err))
	}
}

// PayPalWebhook принимает IPN-уведомление PayPal, проверяет его подлинность
// и проводит завершённый платёж через обычный конвейер.
func (h *Handler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	verified, err := h.ipn.VerifyIPN(r.Context(), body)
	if err != nil {
		h.logger.Error("verify ipn", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	if !verified {
		h.logger.Warn("unverified ipn notification rejected")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// Только завершённые платежи порождают квитанции; остальные статусы
	// подтверждаются без обработки, чтобы PayPal не повторял доставку.
	if form.Get("payment_status") != "Completed" {
		w.WriteHeader(http.StatusOK)
		return
	}

	params, err := ipnToParams(form)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.CreatePayment(r.Context(), params); err != nil {
		h.writeError(w, err, "create paypal payment")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ipnLayout — формат даты в уведомлениях PayPal.
const ipnLayout = "15:04:05 Jan 02, 2006 MST"

func ipnToParams(form url.Values) (service.CreatePaymentParams, error) {
	amount, err := parseIPNAmount(form.Get("mc_gross"))
	if err != nil {
		return service.CreatePaymentParams{}, err
	}

	date, err := time.Parse(ipnLayout, form.Get("payment_date"))
	if err != nil {
		date = time.Now().UTC()
	}

	dtype := model.DonationTypeOneTime
	externalID := ""
	if id := form.Get("recurring_payment_id"); id != "" {
		dtype = model.DonationTypeRecurrent
		externalID = id
	}

	donor := model.Donor{
		FirstName: form.Get("first_name"),
		LastName:  form.Get("last_name"),
		Email:     form.Get("payer_email"),
	}
	if street := form.Get("address_street"); street != "" {
		donor.Address = &model.Address{
			Line1:      street,
			City:       form.Get("address_city"),
			Region:     form.Get("address_state"),
			PostalCode: form.Get("address_zip"),
			Country:    form.Get("address_country_code"),
		}
	}

	return service.CreatePaymentParams{
		Type:               dtype,
		ExternalID:         externalID,
		Donor:              donor,
		AmountCents:        amount,
		ReceiptAmountCents: amount,
		Currency:           form.Get("mc_currency"),
		Date:               date,
		Source:             model.PaymentSourcePayPal,
		ExternalPaymentID:  form.Get("txn_id"),
		EmailReceipt:       donor.Email != "",
	}, nil
}

func parseIPNAmount(raw string) (int64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if !validation.IsFiniteAmount(amount) {
		return 0, errors.New("amount out of range")
	}
	return validation.ToCents(amount), nil
}

// GetDonation возвращает пожертвование по идентификатору.
func (h *Handler) GetDonation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	donation, err := h.service.GetDonation(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get donation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(donation); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type correspondenceRequest struct {
	Type string `json:"type"`
}

// SendCorrespondence отправляет донору письмо указанного типа.
func (h *Handler) SendCorrespondence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req correspondenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctype := model.CorrespondenceType(req.Type)
	switch ctype {
	case model.CorrespondenceThankYou, model.CorrespondenceNoMailingAddr:
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	corr, err := h.service.SendCorrespondence(r.Context(), id, ctype)
	if err != nil {
		h.writeError(w, err, "send correspondence")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(corr); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type importRequest struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
}

// QueueImport ставит в очередь пакетный импорт платежей из файла.
func (h *Handler) QueueImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Filename == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.QueueImport(r.Context(), req.Filename, req.Format); err != nil {
		h.writeError(w, err, "queue import")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrDonationNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
