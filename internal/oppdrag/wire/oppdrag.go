// Package wire holds the XML documents exchanged with the disbursement
// mainframe: the oppdrag order, its kvittering and the avstemming frames.
package wire

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"
)

// Namespace is the default namespace of oppdrag documents.
const Namespace = "http://www.trygdeetaten.no/skjema/oppdrag"

// Layouts for date and timestamp fields. The mainframe has no offset field,
// values are written exactly as carried.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02-15.04.05.000000"
)

// Change and status codes.
const (
	KodeEndringNy   = "NY"
	KodeEndringEndr = "ENDR"
	KodeStatusOpph  = "OPPH"
)

// SeverityOK is the alvorlighetsgrad of an accepted oppdrag.
const SeverityOK = "00"

// Oppdrag is the root order document. On the way back the mainframe echoes it
// with Mmel filled in.
type Oppdrag struct {
	XMLName    xml.Name   `xml:"oppdrag"`
	Xmlns      string     `xml:"xmlns,attr,omitempty"`
	Mmel       *Mmel      `xml:"mmel,omitempty"`
	Oppdrag110 Oppdrag110 `xml:"oppdrag-110"`
}

// Mmel is the receipt block.
type Mmel struct {
	SystemID         string `xml:"systemId,omitempty"`
	KodeMelding      string `xml:"kodeMelding,omitempty"`
	Alvorlighetsgrad string `xml:"alvorlighetsgrad"`
	BeskrMelding     string `xml:"beskrMelding,omitempty"`
}

// Oppdrag110 carries order level fields.
type Oppdrag110 struct {
	KodeAksjon            string             `xml:"kodeAksjon"`
	KodeEndring           string             `xml:"kodeEndring"`
	KodeFagomraade        string             `xml:"kodeFagomraade"`
	FagsystemID           string             `xml:"fagsystemId"`
	UtbetFrekvens         string             `xml:"utbetFrekvens"`
	OppdragGjelderID      string             `xml:"oppdragGjelderId"`
	DatoOppdragGjelderFom string             `xml:"datoOppdragGjelderFom"`
	SaksbehID             string             `xml:"saksbehId"`
	Avstemming115         Avstemming115      `xml:"avstemming-115"`
	OppdragsEnhet120      []OppdragsEnhet120 `xml:"oppdrags-enhet-120"`
	OppdragsLinje150      []OppdragsLinje150 `xml:"oppdrags-linje-150"`
}

// Avstemming115 ties the order to its reconciliation key.
type Avstemming115 struct {
	KodeKomponent    string `xml:"kodeKomponent"`
	NokkelAvstemming string `xml:"nokkelAvstemming"`
	TidspktMelding   string `xml:"tidspktMelding"`
}

// OppdragsEnhet120 names the responsible unit.
type OppdragsEnhet120 struct {
	TypeEnhet    string `xml:"typeEnhet"`
	Enhet        string `xml:"enhet"`
	DatoEnhetFom string `xml:"datoEnhetFom"`
}

// OppdragsLinje150 is one period/amount instruction.
type OppdragsLinje150 struct {
	KodeEndringLinje string         `xml:"kodeEndringLinje"`
	KodeStatusLinje  string         `xml:"kodeStatusLinje,omitempty"`
	DatoStatusFom    string         `xml:"datoStatusFom,omitempty"`
	VedtakID         string         `xml:"vedtakId"`
	DelytelseID      string         `xml:"delytelseId"`
	KodeKlassifik    string         `xml:"kodeKlassifik"`
	DatoVedtakFom    string         `xml:"datoVedtakFom"`
	DatoVedtakTom    string         `xml:"datoVedtakTom,omitempty"`
	Sats             string         `xml:"sats,omitempty"`
	FradragTillegg   string         `xml:"fradragTillegg"`
	TypeSats         string         `xml:"typeSats"`
	BrukKjoreplan    string         `xml:"brukKjoreplan"`
	SaksbehID        string         `xml:"saksbehId"`
	UtbetalesTilID   string         `xml:"utbetalesTilId"`
	Henvisning       string         `xml:"henvisning"`
	RefFagsystemID   string         `xml:"refFagsystemId,omitempty"`
	RefDelytelseID   string         `xml:"refDelytelseId,omitempty"`
	Attestant180     []Attestant180 `xml:"attestant-180"`
}

// Attestant180 names the approver.
type Attestant180 struct {
	AttestantID string `xml:"attestantId"`
}

// ErrMalformed is returned when an inbound document cannot be decoded.
var ErrMalformed = errors.New("wire: malformed document")

// FormatDate renders a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatTimestamp renders a reconciliation key.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// MarshalOppdrag encodes an order with the XML header.
func MarshalOppdrag(o Oppdrag) ([]byte, error) {
	if o.Xmlns == "" {
		o.Xmlns = Namespace
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(o); err != nil {
		return nil, fmt.Errorf("wire: encode oppdrag: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseKvittering decodes a receipt, which is an Oppdrag with Mmel present.
func ParseKvittering(data []byte) (Oppdrag, error) {
	var o Oppdrag
	if len(bytes.TrimSpace(data)) == 0 {
		return o, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if err := xml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if o.Mmel == nil || o.Mmel.Alvorlighetsgrad == "" {
		return o, fmt.Errorf("%w: missing mmel.alvorlighetsgrad", ErrMalformed)
	}
	if o.Oppdrag110.FagsystemID == "" {
		return o, fmt.Errorf("%w: missing fagsystemId", ErrMalformed)
	}
	if o.VedtakID() == "" {
		return o, fmt.Errorf("%w: missing vedtakId", ErrMalformed)
	}
	return o, nil
}

// VedtakID returns the decision id carried on the order lines.
func (o Oppdrag) VedtakID() string {
	for _, l := range o.Oppdrag110.OppdragsLinje150 {
		if l.VedtakID != "" {
			return l.VedtakID
		}
	}
	return ""
}

// Accepted reports whether the receipt severity is an acceptance.
func (m *Mmel) Accepted() bool {
	return m != nil && m.Alvorlighetsgrad == SeverityOK
}
