package oppdrag

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
)

func sampleOrder() PaymentOrder {
	to := time.Date(2030, 1, 4, 0, 0, 0, 0, time.UTC)
	return PaymentOrder{
		ID:                7,
		CaseID:            "case-1",
		DecisionID:        "vedtak-1",
		BehandlingID:      "beh-1",
		RecipientID:       "12345678910",
		CaseWorkerID:      "Z999999",
		ApproverID:        "Z888888",
		ReconciliationKey: time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC),
		Status:            StatusCreated,
		Lines: []PaymentLine{{
			ID:         11,
			OrderID:    7,
			PeriodFrom: time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC),
			PeriodTo:   &to,
			Amount:     decimal.NewNullDecimal(decimal.NewFromInt(10000)),
			Type:       LineDisbursement,
		}},
	}
}

func TestMapFirstOrderScenario(t *testing.T) {
	m := NewMapper(MapperConfig{Fagomraade: "EFOG", Klassifisering: "EFOGKLASS"})

	out, err := m.Map(sampleOrder(), true)
	require.NoError(t, err)

	o := out.Oppdrag110
	assert.Equal(t, "1", o.KodeAksjon)
	assert.Equal(t, wire.KodeEndringNy, o.KodeEndring)
	assert.Equal(t, "EFOG", o.KodeFagomraade)
	assert.Equal(t, "case-1", o.FagsystemID)
	assert.Equal(t, "12345678910", o.OppdragGjelderID)
	assert.Equal(t, "Z999999", o.SaksbehID)
	assert.Equal(t, "2024-03-01-12.30.45.123456", o.Avstemming115.NokkelAvstemming)
	assert.Equal(t, o.Avstemming115.NokkelAvstemming, o.Avstemming115.TidspktMelding)
	assert.Equal(t, "EFOG", o.Avstemming115.KodeKomponent)
	require.Len(t, o.OppdragsEnhet120, 1)
	assert.Equal(t, "BOS", o.OppdragsEnhet120[0].TypeEnhet)
	assert.Equal(t, "8020", o.OppdragsEnhet120[0].Enhet)

	require.Len(t, o.OppdragsLinje150, 1)
	line := o.OppdragsLinje150[0]
	assert.Equal(t, wire.KodeEndringNy, line.KodeEndringLinje)
	assert.Equal(t, "EFOGKLASS", line.KodeKlassifik)
	assert.Equal(t, "10000", line.Sats)
	assert.Equal(t, "2022-02-02", line.DatoVedtakFom)
	assert.Equal(t, "2030-01-04", line.DatoVedtakTom)
	assert.Equal(t, "11", line.DelytelseID)
	assert.Equal(t, "vedtak-1", line.VedtakID)
	assert.Equal(t, "beh-1", line.Henvisning)
	assert.Empty(t, line.KodeStatusLinje)
	assert.Empty(t, line.RefDelytelseID)
	require.Len(t, line.Attestant180, 1)
	assert.Equal(t, "Z888888", line.Attestant180[0].AttestantID)
}

func TestMapIsDeterministic(t *testing.T) {
	m := NewMapper(MapperConfig{Fagomraade: "EFOG", Klassifisering: "EFOG"})
	a, err := m.Map(sampleOrder(), false)
	require.NoError(t, err)
	b, err := m.Map(sampleOrder(), false)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, wire.KodeEndringEndr, a.Oppdrag110.KodeEndring)
}

func TestMapChangeAndStopLines(t *testing.T) {
	m := NewMapper(MapperConfig{Fagomraade: "EFOG", Klassifisering: "EFOG"})
	order := sampleOrder()
	superseded := int64(3)
	order.Lines = append(order.Lines, PaymentLine{
		ID:               12,
		OrderID:          7,
		PeriodFrom:       time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		Type:             LineStop,
		SupersedesLineID: &superseded,
	})

	out, err := m.Map(order, false)
	require.NoError(t, err)
	require.Len(t, out.Oppdrag110.OppdragsLinje150, 2)

	stop := out.Oppdrag110.OppdragsLinje150[1]
	assert.Equal(t, wire.KodeEndringEndr, stop.KodeEndringLinje)
	assert.Equal(t, wire.KodeStatusOpph, stop.KodeStatusLinje)
	assert.Equal(t, "2023-05-01", stop.DatoStatusFom)
	assert.Equal(t, "case-1", stop.RefFagsystemID)
	assert.Equal(t, "3", stop.RefDelytelseID)
	assert.Empty(t, stop.Sats)
}

func TestMapRejectsInvalidOrders(t *testing.T) {
	m := NewMapper(MapperConfig{Fagomraade: "EFOG", Klassifisering: "EFOG"})

	tests := map[string]func(*PaymentOrder){
		"no lines":           func(o *PaymentOrder) { o.Lines = nil },
		"missing amount":     func(o *PaymentOrder) { o.Lines[0].Amount = decimal.NullDecimal{} },
		"stop with amount":   func(o *PaymentOrder) { o.Lines[0].Type = LineStop },
		"unsaved line":       func(o *PaymentOrder) { o.Lines[0].ID = 0 },
		"no key":             func(o *PaymentOrder) { o.ReconciliationKey = time.Time{} },
		"no recipient":       func(o *PaymentOrder) { o.RecipientID = "" },
		"period to before":   func(o *PaymentOrder) { before := o.Lines[0].PeriodFrom.AddDate(0, 0, -1); o.Lines[0].PeriodTo = &before },
		"unknown line type":  func(o *PaymentOrder) { o.Lines[0].Type = "REFUND" },
		"missing period fom": func(o *PaymentOrder) { o.Lines[0].PeriodFrom = time.Time{} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			order := sampleOrder()
			mutate(&order)
			_, err := m.Map(order, true)
			require.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestMapKeepsCalendarDates(t *testing.T) {
	m := NewMapper(MapperConfig{Fagomraade: "EFOG", Klassifisering: "EFOG"})
	oslo := time.FixedZone("CET", 3600)
	order := sampleOrder()
	order.Lines[0].PeriodFrom = time.Date(2022, 2, 2, 0, 0, 0, 0, oslo)

	out, err := m.Map(order, true)
	require.NoError(t, err)
	assert.Equal(t, "2022-02-02", out.Oppdrag110.OppdragsLinje150[0].DatoVedtakFom)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusCreated, StatusSent}:   true,
		{StatusSent, StatusConfirmed}: true,
		{StatusSent, StatusFailed}:    true,
	}
	all := []Status{StatusCreated, StatusSent, StatusConfirmed, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusSent.Terminal())
}
