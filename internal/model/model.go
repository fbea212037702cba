// Package model содержит доменные сущности сервиса налоговых квитанций.
package model

import "time"

// DonationType описывает тип пожертвования.
type DonationType string

const (
	DonationTypeOneTime   DonationType = "one-time"
	DonationTypeRecurrent DonationType = "recurrent"
)

// PaymentSource описывает источник платежа.
type PaymentSource string

const (
	PaymentSourceCheque PaymentSource = "cheque"
	PaymentSourcePayPal PaymentSource = "paypal"
	PaymentSourceImport PaymentSource = "import"
)

// Address описывает почтовый адрес донора. Наличие адреса определяет,
// можно ли выпускать квитанцию.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Donor описывает донора. FirstName отсутствует у организаций.
type Donor struct {
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

// Payment описывает один платёж. Платежи только добавляются и никогда не удаляются.
// Суммы хранятся в минорных единицах валюты.
type Payment struct {
	AmountCents        int64         `json:"amountCents"`
	ReceiptAmountCents int64         `json:"receiptAmountCents"`
	Currency           string        `json:"currency"`
	Date               time.Time     `json:"date"`
	Source             PaymentSource `json:"source"`
	ExternalPaymentID  string        `json:"externalPaymentId,omitempty"`
}

// DocumentMetadata описывает сгенерированный документ квитанции.
// ID одновременно является номером квитанции и первичным ключом.
type DocumentMetadata struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	Filename    string    `json:"filename"`
	Description string    `json:"description,omitempty"`
}

// CorrespondenceType описывает тип исходящего письма.
type CorrespondenceType string

const (
	CorrespondenceNoMailingAddr CorrespondenceType = "no-mailing-addr"
	CorrespondenceThankYou      CorrespondenceType = "thank-you"
)

// CorrespondenceStatus описывает статус доставки письма.
// Статус sent является терминальным.
type CorrespondenceStatus string

const (
	CorrespondenceStatusCreated CorrespondenceStatus = "created"
	CorrespondenceStatusSent    CorrespondenceStatus = "sent"
	CorrespondenceStatusError   CorrespondenceStatus = "error"
)

// Correspondence описывает исходящее письмо донору и его жизненный цикл.
type Correspondence struct {
	ID            string               `json:"id"`
	Date          time.Time            `json:"date"`
	Recipient     string               `json:"recipient"`
	Type          CorrespondenceType   `json:"type"`
	AttachmentIDs []string             `json:"attachmentIds,omitempty"`
	Status        CorrespondenceStatus `json:"status"`
}

// Donation — агрегат пожертвования: донор и все его платежи за фискальный год,
// документы квитанций и переписка. Инвариант: хотя бы один платёж; FiscalYear
// вычисляется один раз при создании и не пересчитывается.
type Donation struct {
	ID             string             `json:"id"`
	ExternalID     string             `json:"externalId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	FiscalYear     int                `json:"fiscalYear"`
	Type           DonationType       `json:"type"`
	Donor          Donor              `json:"donor"`
	Payments       []Payment          `json:"payments"`
	EmailReceipt   bool               `json:"emailReceipt"`
	Documents      []DocumentMetadata `json:"documents,omitempty"`
	Correspondence []Correspondence   `json:"correspondence,omitempty"`
	Reason         string             `json:"reason,omitempty"`

	// Version — токен оптимистической блокировки, управляется хранилищем.
	Version int64 `json:"-"`
}

// TotalReceiptAmountCents возвращает сумму квитанции по всем платежам
// в минорных единицах.
func (d *Donation) TotalReceiptAmountCents() int64 {
	var total int64
	for _, p := range d.Payments {
		total += p.ReceiptAmountCents
	}
	return total
}

// LatestDocument возвращает последний созданный документ или nil, если документов нет.
func (d *Donation) LatestDocument() *DocumentMetadata {
	var latest *DocumentMetadata
	for i := range d.Documents {
		doc := &d.Documents[i]
		if latest == nil || doc.CreatedAt.After(latest.CreatedAt) {
			latest = doc
		}
	}
	return latest
}

// GeneratePDFCommand — команда генерации PDF-квитанции. Существует только
// в виде сообщения на шине.
type GeneratePDFCommand struct {
	DonationID             string `json:"donationId"`
	QueueEmailTransmission bool   `json:"queueEmailTransmission"`
}

// SendEmailCommand — команда отправки письма донору.
type SendEmailCommand struct {
	DonationID string             `json:"donationId"`
	Type       CorrespondenceType `json:"type"`
}

// BulkImportCommand — команда пакетного импорта платежей из файла.
type BulkImportCommand struct {
	Filename string `json:"filename"`
	Format   string `json:"format"`
}
