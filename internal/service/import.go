package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
	"github.com/mmeshcher/donation-receipt-system/internal/validation"
)

// rowParser разбирает одну строку файла импорта в параметры платежа.
type rowParser func(record []string) (CreatePaymentParams, error)

// rowParserFor возвращает парсер строк для указанного формата файла импорта.
func rowParserFor(format string) (rowParser, error) {
	switch format {
	case "cheque":
		return parseChequeRow, nil
	case "paypal":
		return parsePayPalRow, nil
	default:
		return nil, fmt.Errorf("%w: unknown import format %q", ErrValidation, format)
	}
}

// ImportPayments обрабатывает команду пакетного импорта: читает файл из
// хранилища документов и проводит каждую строку через обычный конвейер
// платежей. Ошибка отдельной строки не прерывает импорт.
func (s *Service) ImportPayments(ctx context.Context, cmd model.BulkImportCommand) error {
	parse, err := rowParserFor(cmd.Format)
	if err != nil {
		return err
	}

	data, err := s.documents.Load(ctx, cmd.Filename)
	if err != nil {
		return fmt.Errorf("load import file: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var line, imported, failed int
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read import file %s: %w", cmd.Filename, err)
		}
		line++
		if line == 1 {
			// Первая строка — заголовок.
			continue
		}

		params, err := parse(record)
		if err == nil {
			_, err = s.CreatePayment(ctx, params)
		}
		if err != nil {
			failed++
			s.logger.Warn("import row rejected",
				zap.String("filename", cmd.Filename),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		imported++
	}

	s.logger.Info("import finished",
		zap.String("filename", cmd.Filename),
		zap.String("format", cmd.Format),
		zap.Int("imported", imported),
		zap.Int("failed", failed))
	return nil
}

// Колонки файла чеков:
// firstName, lastName, email, line1, city, region, postalCode, country,
// amount, receiptAmount, currency, date, chequeNumber.
const chequeRowFields = 13

func parseChequeRow(record []string) (CreatePaymentParams, error) {
	if len(record) != chequeRowFields {
		return CreatePaymentParams{}, fmt.Errorf("%w: expected %d fields, got %d", ErrValidation, chequeRowFields, len(record))
	}

	amountCents, err := parseAmount(record[8])
	if err != nil {
		return CreatePaymentParams{}, err
	}
	receiptCents, err := parseAmount(record[9])
	if err != nil {
		return CreatePaymentParams{}, err
	}
	date, err := parseDate(record[11])
	if err != nil {
		return CreatePaymentParams{}, err
	}

	donor := model.Donor{
		FirstName: record[0],
		LastName:  record[1],
		Email:     record[2],
	}
	if record[3] != "" {
		donor.Address = &model.Address{
			Line1:      record[3],
			City:       record[4],
			Region:     record[5],
			PostalCode: record[6],
			Country:    record[7],
		}
	}

	return CreatePaymentParams{
		Type:               model.DonationTypeOneTime,
		Donor:              donor,
		AmountCents:        amountCents,
		ReceiptAmountCents: receiptCents,
		Currency:           record[10],
		Date:               date,
		Source:             model.PaymentSourceCheque,
		ExternalPaymentID:  record[12],
		EmailReceipt:       donor.Email != "",
	}, nil
}

// Колонки выгрузки PayPal:
// txnId, subscriptionId, date, firstName, lastName, email, amount, currency.
const paypalRowFields = 8

func parsePayPalRow(record []string) (CreatePaymentParams, error) {
	if len(record) != paypalRowFields {
		return CreatePaymentParams{}, fmt.Errorf("%w: expected %d fields, got %d", ErrValidation, paypalRowFields, len(record))
	}

	amountCents, err := parseAmount(record[6])
	if err != nil {
		return CreatePaymentParams{}, err
	}
	date, err := parseDate(record[2])
	if err != nil {
		return CreatePaymentParams{}, err
	}

	dtype := model.DonationTypeOneTime
	if record[1] != "" {
		dtype = model.DonationTypeRecurrent
	}

	return CreatePaymentParams{
		Type:       dtype,
		ExternalID: record[1],
		Donor: model.Donor{
			FirstName: record[3],
			LastName:  record[4],
			Email:     record[5],
		},
		AmountCents:        amountCents,
		ReceiptAmountCents: amountCents,
		Currency:           record[7],
		Date:               date,
		Source:             model.PaymentSourceImport,
		ExternalPaymentID:  record[0],
		EmailReceipt:       record[5] != "",
	}, nil
}

func parseAmount(raw string) (int64, error) {
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrValidation, raw)
	}
	if !validation.IsFiniteAmount(amount) {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrValidation, raw)
	}
	return validation.ToCents(amount), nil
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed date %q", ErrValidation, raw)
	}
	return date, nil
}
