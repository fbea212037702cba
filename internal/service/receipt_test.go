package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/donation-receipt-system/internal/broker"
	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

// seedDonation создаёт пожертвование через обычный конвейер и возвращает его.
func seedDonation(t *testing.T, env *testEnv, params CreatePaymentParams) *model.Donation {
	t.Helper()
	params.Simulate = true
	d, err := env.svc.CreatePayment(context.Background(), params)
	require.NoError(t, err)
	return d
}

func TestGenerateReceipt_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	d := seedDonation(t, env, validParams())

	err := env.svc.GenerateReceipt(context.Background(), model.GeneratePDFCommand{
		DonationID:             d.ID,
		QueueEmailTransmission: true,
	})
	require.NoError(t, err)

	pdf, err := env.store.Load(context.Background(), "SMIJO2024-AAA001.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, pdf)

	stored := env.repo.single(t)
	require.Len(t, stored.Documents, 1)
	assert.Equal(t, "SMIJO2024-AAA001", stored.Documents[0].ID)
	assert.Equal(t, "SMIJO2024-AAA001.pdf", stored.Documents[0].Filename)

	msgs := env.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, broker.TopicSendEmail, msgs[0].topic)
	cmd := msgs[0].cmd.(model.SendEmailCommand)
	assert.Equal(t, d.ID, cmd.DonationID)
	assert.Equal(t, model.CorrespondenceThankYou, cmd.Type)
}

func TestGenerateReceipt_NoEmailQueue(t *testing.T) {
	env := newTestEnv(t)
	d := seedDonation(t, env, validParams())

	err := env.svc.GenerateReceipt(context.Background(), model.GeneratePDFCommand{DonationID: d.ID})
	require.NoError(t, err)

	assert.Empty(t, env.publisher.messages())
}

func TestGenerateReceipt_ReserveCollisionRetries(t *testing.T) {
	env := newTestEnv(t)
	d := seedDonation(t, env, validParams())

	// Первый номер проигрывает гонку; второй резервируется.
	env.repo.failReserves = 1

	err := env.svc.GenerateReceipt(context.Background(), model.GeneratePDFCommand{DonationID: d.ID})
	require.NoError(t, err)

	stored := env.repo.single(t)
	require.Len(t, stored.Documents, 1)
	assert.Equal(t, "SMIJO2024-BBB001", stored.Documents[0].ID)
}

func TestGenerateReceipt_RenderFailurePropagates(t *testing.T) {
	env := newTestEnv(t)
	d := seedDonation(t, env, validParams())
	env.renderer.err = errors.New("browser crashed")

	err := env.svc.GenerateReceipt(context.Background(), model.GeneratePDFCommand{DonationID: d.ID})
	require.Error(t, err)

	stored := env.repo.single(t)
	assert.Empty(t, stored.Documents, "no document is attached on render failure")
}

func TestHandleGeneratePDF_MissingDonationIsTerminal(t *testing.T) {
	env := newTestEnv(t)

	h := env.svc.Handlers()
	err := h.GeneratePDF(context.Background(), model.GeneratePDFCommand{DonationID: "missing"})
	assert.NoError(t, err, "missing donation must not trigger redelivery")
}

func TestHandleGeneratePDF_TransientErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	d := seedDonation(t, env, validParams())
	env.renderer.err = errors.New("browser crashed")

	h := env.svc.Handlers()
	err := h.GeneratePDF(context.Background(), model.GeneratePDFCommand{DonationID: d.ID})
	assert.Error(t, err, "transient failure must trigger redelivery")
}
