package oppdrag

import (
	"fmt"
	"strconv"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
)

// Fixed codes agreed with the mainframe.
const (
	kodeAksjonOppdrag     = "1"
	utbetFrekvensMaaned   = "MND"
	typeEnhetBosted       = "BOS"
	enhetNasjonal         = "8020"
	datoEnhetFom          = "1900-01-01"
	datoOppdragGjelderFom = "2000-01-01"
	fradragTilleggTillegg = "T"
	typeSatsMaaned        = "MND"
	brukKjoreplanNei      = "N"
)

// MapperConfig carries the per-deployment codes.
type MapperConfig struct {
	Fagomraade     string
	Klassifisering string
}

// Mapper turns a PaymentOrder into the wire Oppdrag. It performs no I/O and
// reads no clock.
type Mapper struct {
	cfg MapperConfig
}

// NewMapper constructs a mapper.
func NewMapper(cfg MapperConfig) *Mapper {
	return &Mapper{cfg: cfg}
}

// Map builds the wire order. firstForCase selects NY over ENDR and is decided
// by the caller.
func (m *Mapper) Map(order PaymentOrder, firstForCase bool) (wire.Oppdrag, error) {
	if err := m.validate(order); err != nil {
		return wire.Oppdrag{}, err
	}

	kodeEndring := wire.KodeEndringEndr
	if firstForCase {
		kodeEndring = wire.KodeEndringNy
	}
	key := wire.FormatTimestamp(order.ReconciliationKey)

	out := wire.Oppdrag{
		Oppdrag110: wire.Oppdrag110{
			KodeAksjon:            kodeAksjonOppdrag,
			KodeEndring:           kodeEndring,
			KodeFagomraade:        m.cfg.Fagomraade,
			FagsystemID:           order.CaseID,
			UtbetFrekvens:         utbetFrekvensMaaned,
			OppdragGjelderID:      order.RecipientID,
			DatoOppdragGjelderFom: datoOppdragGjelderFom,
			SaksbehID:             order.CaseWorkerID,
			Avstemming115: wire.Avstemming115{
				KodeKomponent:    m.cfg.Fagomraade,
				NokkelAvstemming: key,
				TidspktMelding:   key,
			},
			OppdragsEnhet120: []wire.OppdragsEnhet120{{
				TypeEnhet:    typeEnhetBosted,
				Enhet:        enhetNasjonal,
				DatoEnhetFom: datoEnhetFom,
			}},
			OppdragsLinje150: make([]wire.OppdragsLinje150, 0, len(order.Lines)),
		},
	}

	for _, line := range order.Lines {
		out.Oppdrag110.OppdragsLinje150 = append(out.Oppdrag110.OppdragsLinje150, m.mapLine(order, line))
	}
	return out, nil
}

func (m *Mapper) mapLine(order PaymentOrder, line PaymentLine) wire.OppdragsLinje150 {
	wl := wire.OppdragsLinje150{
		KodeEndringLinje: wire.KodeEndringNy,
		VedtakID:         order.DecisionID,
		DelytelseID:      strconv.FormatInt(line.ID, 10),
		KodeKlassifik:    m.cfg.Klassifisering,
		DatoVedtakFom:    wire.FormatDate(line.PeriodFrom),
		FradragTillegg:   fradragTilleggTillegg,
		TypeSats:         typeSatsMaaned,
		BrukKjoreplan:    brukKjoreplanNei,
		SaksbehID:        order.CaseWorkerID,
		UtbetalesTilID:   order.RecipientID,
		Henvisning:       order.BehandlingID,
		Attestant180:     []wire.Attestant180{{AttestantID: order.ApproverID}},
	}
	if line.PeriodTo != nil {
		wl.DatoVedtakTom = wire.FormatDate(*line.PeriodTo)
	}
	if line.Amount.Valid {
		wl.Sats = line.Amount.Decimal.String()
	}
	if line.SupersedesLineID != nil {
		wl.KodeEndringLinje = wire.KodeEndringEndr
		wl.RefFagsystemID = order.CaseID
		wl.RefDelytelseID = strconv.FormatInt(*line.SupersedesLineID, 10)
	}
	if line.Type == LineStop {
		wl.KodeStatusLinje = wire.KodeStatusOpph
		wl.DatoStatusFom = wire.FormatDate(line.PeriodFrom)
	}
	return wl
}

func (m *Mapper) validate(order PaymentOrder) error {
	if order.CaseID == "" || order.DecisionID == "" || order.RecipientID == "" {
		return fmt.Errorf("%w: case, decision and recipient required", ErrInvalidOrder)
	}
	if order.ReconciliationKey.IsZero() {
		return fmt.Errorf("%w: reconciliation key not assigned", ErrInvalidOrder)
	}
	if len(order.Lines) == 0 {
		return fmt.Errorf("%w: order without lines", ErrInvalidOrder)
	}
	for i, line := range order.Lines {
		if line.ID == 0 {
			return fmt.Errorf("%w: line %d not persisted", ErrInvalidOrder, i)
		}
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
	}
	return nil
}
