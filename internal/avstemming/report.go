package avstemming

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag"
	"github.com/odyssey-erp/settlement-bridge/internal/oppdrag/wire"
)

// ReportConfig holds the component codes and paging of a report.
type ReportConfig struct {
	Fagomraade        string
	DetailsPerMessage int
}

// Report is the framed message sequence of one run.
type Report struct {
	Frames  []wire.Avstemmingsdata
	Summary Summary
}

// ReportBuilder frames a window of orders as START, DATA..., AVSL.
type ReportBuilder struct {
	cfg ReportConfig
}

// NewReportBuilder constructs a builder. A non-positive page size means 70
// details per DATA frame.
func NewReportBuilder(cfg ReportConfig) *ReportBuilder {
	if cfg.DetailsPerMessage <= 0 {
		cfg.DetailsPerMessage = 70
	}
	return &ReportBuilder{cfg: cfg}
}

// Build produces the frames for orders, which must be sorted by
// reconciliation key. It performs no I/O.
func (b *ReportBuilder) Build(runID string, period Period, orders []oppdrag.PaymentOrder) Report {
	summary := summarize(orders)

	nokkelFom, nokkelTom := wire.FormatTimestamp(period.From), wire.FormatTimestamp(period.To)
	if len(orders) > 0 {
		nokkelFom = wire.FormatTimestamp(orders[0].ReconciliationKey)
		nokkelTom = wire.FormatTimestamp(orders[len(orders)-1].ReconciliationKey)
	}
	aksjon := func(kind string) wire.Aksjonsdata {
		return wire.Aksjonsdata{
			AksjonType:               kind,
			KildeType:                wire.KildeTypeAvlev,
			AvstemmingType:           wire.AvstemmingTypeGrsn,
			AvleverendeKomponentKode: b.cfg.Fagomraade,
			MottakendeKomponentKode:  wire.MottakendeKomponent,
			UnderkomponentKode:       b.cfg.Fagomraade,
			NokkelFom:                nokkelFom,
			NokkelTom:                nokkelTom,
			AvleverendeAvstemmingID:  runID,
			BrukerID:                 b.cfg.Fagomraade,
		}
	}
	total := &wire.Totaldata{
		TotalAntall: summary.Total.Count,
		TotalBelop:  belop(summary.Total.Amount),
		Fortegn:     fortegn(summary.Total.Amount),
	}
	periode := &wire.Periodedata{
		DatoAvstemtFom: wire.FormatPeriode(period.From),
		DatoAvstemtTom: wire.FormatPeriode(period.To),
	}

	frames := []wire.Avstemmingsdata{{Aksjon: aksjon(wire.AksjonStart), Total: total, Periode: periode}}

	details := make([]wire.Detaljdata, 0, len(orders))
	for _, o := range orders {
		details = append(details, detail(o))
	}
	first := true
	for start := 0; first || start < len(details); start += b.cfg.DetailsPerMessage {
		end := start + b.cfg.DetailsPerMessage
		if end > len(details) {
			end = len(details)
		}
		frame := wire.Avstemmingsdata{Aksjon: aksjon(wire.AksjonData), Detalj: details[start:end]}
		if first {
			frame.Total = total
			frame.Periode = periode
			frame.Grunnlag = grunnlag(summary)
			first = false
		}
		frames = append(frames, frame)
	}

	frames = append(frames, wire.Avstemmingsdata{Aksjon: aksjon(wire.AksjonAvsl)})
	summary.Messages = len(frames)
	return Report{Frames: frames, Summary: summary}
}

func summarize(orders []oppdrag.PaymentOrder) Summary {
	var s Summary
	for _, o := range orders {
		amount := o.Total()
		s.Total.add(amount)
		switch o.Status {
		case oppdrag.StatusConfirmed:
			s.Confirmed.add(amount)
		case oppdrag.StatusFailed:
			s.Failed.add(amount)
		default:
			s.Missing.add(amount)
		}
	}
	return s
}

func grunnlag(s Summary) *wire.Grunnlagsdata {
	return &wire.Grunnlagsdata{
		GodkjentAntall:  s.Confirmed.Count,
		GodkjentBelop:   belop(s.Confirmed.Amount),
		GodkjentFortegn: fortegn(s.Confirmed.Amount),
		VarselAntall:    0,
		VarselBelop:     belop(decimal.Zero),
		VarselFortegn:   wire.FortegnTillegg,
		AvvistAntall:    s.Failed.Count,
		AvvistBelop:     belop(s.Failed.Amount),
		AvvistFortegn:   fortegn(s.Failed.Amount),
		ManglerAntall:   s.Missing.Count,
		ManglerBelop:    belop(s.Missing.Amount),
		ManglerFortegn:  fortegn(s.Missing.Amount),
	}
}

func detail(o oppdrag.PaymentOrder) wire.Detaljdata {
	d := wire.Detaljdata{
		Offnr:                        o.RecipientID,
		AvleverendeTransaksjonNokkel: o.CaseID,
		Tidspunkt:                    wire.FormatTimestamp(o.ReconciliationKey),
	}
	switch o.Status {
	case oppdrag.StatusConfirmed:
		d.DetaljType = wire.DetaljTypeGodkjent
	case oppdrag.StatusFailed:
		d.DetaljType = wire.DetaljTypeAvvist
		if o.Failure != nil {
			d.AlvorlighetsGrad = o.Failure.Severity
			d.MeldingKode = o.Failure.MessageCode
			d.TekstMelding = o.Failure.Text
		}
	default:
		d.DetaljType = wire.DetaljTypeMangler
	}
	return d
}

func belop(d decimal.Decimal) string {
	return d.Abs().StringFixed(2)
}

func fortegn(d decimal.Decimal) string {
	if d.IsNegative() {
		return wire.FortegnFradrag
	}
	return wire.FortegnTillegg
}
