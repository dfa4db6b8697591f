package convert

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/livinlefevreloca/relay/internal/record"
)

// DefaultCustomerNumber is the Taifun customer number used when the
// ordering organization is not mapped to a dedicated one.
const DefaultCustomerNumber = "10400"

type customer struct {
	match  string
	number string
}

// knownCustomers maps the ordering party's organization code (PARVW=AG, ORGTX)
// to its Taifun customer match code and number.
var knownCustomers = map[string]customer{
	"IMD": {match: "IMD", number: "10400"},
}

var markupCleaner = strings.NewReplacer("<B>", "", "</>", "", "*", "")

type ahList struct {
	XMLName xml.Name `xml:"urn:taifun-software.de:schema:TAIFUN AhList"`
	Ah      ah       `xml:"Ah"`
}

// ah is a Taifun order (Auftrag). Field order is the import order.
type ah struct {
	BestellNr       string `xml:"BestellNr"`
	Date            string `xml:"Date"`
	DateDesc        string `xml:"DateDesc"`
	Info            string `xml:"Info"`
	AhOffen         bool   `xml:"AhOffen"`
	Erledigt        bool   `xml:"Erledigt"`
	Gedruckt        bool   `xml:"Gedruckt"`
	Storno          bool   `xml:"Storno"`
	RechnungGebucht bool   `xml:"RechnungGebucht"`
	AhMobile        bool   `xml:"AhMobile"`
	KdMatch         string `xml:"KdMatch"`
	KdNr            string `xml:"KdNr"`
	MtName1         string `xml:"MtName1"`
	MtName2         string `xml:"MtName2"`
	MtStr           string `xml:"MtStr"`
	MtAnschriftPLZ  string `xml:"MtAnschriftPLZ"`
	MtOrt           string `xml:"MtOrt"`
	VortextTxt      string `xml:"VortextTxt"`
	KlkLohnGruppe   string `xml:"KlkLohnGruppe"`
	KlkMatMulti     string `xml:"KlkMatMulti"`
	KlkZuschlagMat  string `xml:"KlkZuschlagMat"`
	KlkZuschlagLNK  string `xml:"KlkZuschlagLNK"`
}

// Order converts an SAP ORDERS IDoc into a Taifun AhList document.
func Order(source string) (string, error) {
	root, err := parseTree(source)
	if err != nil {
		return "", &ConversionError{Kind: record.KindOrder, Reason: "parse IDoc", Err: err}
	}

	doc := ah{
		AhOffen:        true,
		AhMobile:       true,
		KdNr:           DefaultCustomerNumber,
		KlkLohnGruppe:  "1",
		KlkMatMulti:    "1.30",
		KlkZuschlagMat: "0.35",
		KlkZuschlagLNK: "1.65",
	}

	doc.BestellNr = strings.TrimSpace(root.find("E1EDK01").childText("BELNR"))
	if doc.BestellNr == "" {
		return "", &ConversionError{Kind: record.KindOrder, Reason: "missing order reference E1EDK01/BELNR"}
	}

	doc.Date = sapDate(strings.TrimSpace(root.find("E1EDK03").childText("DATUM")))
	doc.DateDesc = doc.Date

	var postcode, city string
	for _, partner := range root.findAll("E1EDKA1") {
		switch partner.childText("PARVW") {
		case "AG":
			if c, ok := knownCustomers[partner.childText("ORGTX")]; ok {
				doc.KdMatch = c.match
				doc.KdNr = c.number
			}
		case "WE":
			doc.MtName1 = partner.childText("NAME1")
			doc.MtName2 = partner.childText("NAME2")
			doc.MtStr = strings.TrimSpace(partner.childText("STRAS") + " " + partner.childText("HAUSN"))
			postcode = partner.childText("PSTLZ")
			city = partner.childText("ORT01")
		}
	}
	doc.MtAnschriftPLZ = postcode
	doc.MtOrt = strings.TrimSpace(postcode + " " + city)

	lines := textLines(root)
	switch {
	case len(lines) > 1:
		doc.Info = lines[1]
	case len(lines) == 1:
		doc.Info = lines[0]
	}
	doc.VortextTxt = strings.Join(lines, "\n")

	return render(record.KindOrder, ahList{Ah: doc})
}

// textLines collects the long-text lines of the first order position with
// SAPscript markup stripped and blank lines dropped.
func textLines(root *node) []string {
	position := root.find("E1EDP01")
	if position == nil {
		return nil
	}
	var lines []string
	for _, header := range position.childrenNamed("E1EDPT1") {
		for _, line := range header.childrenNamed("E1EDPT2") {
			clean := strings.TrimSpace(markupCleaner.Replace(line.childText("TDLINE")))
			if clean != "" {
				lines = append(lines, clean)
			}
		}
	}
	return lines
}

// sapDate converts YYYYMMDD to YYYY-MM-DD, passing anything else through.
func sapDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse("20060102", raw)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02")
}
