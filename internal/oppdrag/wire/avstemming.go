package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"
)

// Aksjon types framing one grensesnittavstemming run.
const (
	AksjonStart = "START"
	AksjonData  = "DATA"
	AksjonAvsl  = "AVSL"
)

// Fixed aksjon codes.
const (
	KildeTypeAvlev      = "AVLEV"
	AvstemmingTypeGrsn  = "GRSN"
	MottakendeKomponent = "OS"
	FortegnTillegg      = "T"
	FortegnFradrag      = "F"
	PeriodeLayout       = "2006010215"
	DetaljTypeAvvist    = "AVVI"
	DetaljTypeMangler   = "MANG"
	DetaljTypeGodkjent  = "GODK"
)

// Avstemmingsdata is one frame of a reconciliation report.
type Avstemmingsdata struct {
	XMLName  xml.Name       `xml:"avstemmingsdata"`
	Aksjon   Aksjonsdata    `xml:"aksjon"`
	Total    *Totaldata     `xml:"total,omitempty"`
	Periode  *Periodedata   `xml:"periode,omitempty"`
	Grunnlag *Grunnlagsdata `xml:"grunnlag,omitempty"`
	Detalj   []Detaljdata   `xml:"detalj,omitempty"`
}

// Aksjonsdata identifies the run and the frame type.
type Aksjonsdata struct {
	AksjonType               string `xml:"aksjonType"`
	KildeType                string `xml:"kildeType"`
	AvstemmingType           string `xml:"avstemmingType"`
	AvleverendeKomponentKode string `xml:"avleverendeKomponentKode"`
	MottakendeKomponentKode  string `xml:"mottakendeKomponentKode"`
	UnderkomponentKode       string `xml:"underkomponentKode"`
	NokkelFom                string `xml:"nokkelFom"`
	NokkelTom                string `xml:"nokkelTom"`
	AvleverendeAvstemmingID  string `xml:"avleverendeAvstemmingId"`
	BrukerID                 string `xml:"brukerId"`
}

// Totaldata sums the whole window.
type Totaldata struct {
	TotalAntall int    `xml:"totalAntall"`
	TotalBelop  string `xml:"totalBelop"`
	Fortegn     string `xml:"fortegn"`
}

// Periodedata is the window at hour resolution.
type Periodedata struct {
	DatoAvstemtFom string `xml:"datoAvstemtFom"`
	DatoAvstemtTom string `xml:"datoAvstemtTom"`
}

// Grunnlagsdata splits the window by outcome.
type Grunnlagsdata struct {
	GodkjentAntall  int    `xml:"godkjentAntall"`
	GodkjentBelop   string `xml:"godkjentBelop"`
	GodkjentFortegn string `xml:"godkjentFortegn"`
	VarselAntall    int    `xml:"varselAntall"`
	VarselBelop     string `xml:"varselBelop"`
	VarselFortegn   string `xml:"varselFortegn"`
	AvvistAntall    int    `xml:"avvistAntall"`
	AvvistBelop     string `xml:"avvistBelop"`
	AvvistFortegn   string `xml:"avvistFortegn"`
	ManglerAntall   int    `xml:"manglerAntall"`
	ManglerBelop    string `xml:"manglerBelop"`
	ManglerFortegn  string `xml:"manglerFortegn"`
}

// Detaljdata is the per-order line of a DATA frame.
type Detaljdata struct {
	DetaljType                   string `xml:"detaljType"`
	Offnr                        string `xml:"offnr"`
	AvleverendeTransaksjonNokkel string `xml:"avleverendeTransaksjonNokkel"`
	MeldingKode                  string `xml:"meldingKode,omitempty"`
	AlvorlighetsGrad             string `xml:"alvorlighetsgrad,omitempty"`
	TekstMelding                 string `xml:"tekstMelding,omitempty"`
	Tidspunkt                    string `xml:"tidspunkt"`
}

// FormatPeriode renders a period bound.
func FormatPeriode(t time.Time) string {
	return t.Format(PeriodeLayout)
}

// MarshalAvstemming encodes one frame with the XML header.
func MarshalAvstemming(a Avstemmingsdata) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("wire: encode avstemmingsdata: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseAvstemming decodes one frame.
func ParseAvstemming(data []byte) (Avstemmingsdata, error) {
	var a Avstemmingsdata
	if err := xml.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return a, nil
}
