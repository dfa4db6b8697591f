package convert

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"unicode"

	"github.com/livinlefevreloca/relay/internal/record"
)

const (
	// MatchCodeFallback replaces a match code that is empty after cleaning.
	MatchCodeFallback = "NEUKUNDE"

	// UnknownCallerName is the display name used when the event carries none.
	UnknownCallerName = "Unbekannter Anrufer"

	matchCodeMaxLen = 15
)

type kdList struct {
	XMLName xml.Name `xml:"urn:taifun-software.de:schema:TAIFUN KdList"`
	Kd      kd       `xml:"Kd"`
}

// kd is a Taifun customer (Kunde). KdNr 0 lets Taifun assign the next number.
type kd struct {
	KdNr     string `xml:"KdNr"`
	Match    string `xml:"Match"`
	Name1    string `xml:"Name1"`
	Anrede   string `xml:"Anrede"`
	Land     string `xml:"Land"`
	Telefon  string `xml:"Telefon"`
	KdUse    bool   `xml:"KdUse"`
	Brutto   bool   `xml:"Brutto"`
	Sperre   bool   `xml:"Sperre"`
	Waehrung string `xml:"Waehrung"`
}

// CallEvent is the JSON capture of a phone-system call event.
type CallEvent struct {
	State      string  `json:"state"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Extension  *string `json:"extension"`
	CallerName *string `json:"caller_name"`
	Timestamp  string  `json:"timestamp"`
}

// Call converts a call event capture into a Taifun KdList document.
func Call(source string) (string, error) {
	var event CallEvent
	if err := json.Unmarshal([]byte(source), &event); err != nil {
		return "", &ConversionError{Kind: record.KindCall, Reason: "parse call event", Err: err}
	}

	name := ""
	if event.CallerName != nil {
		name = strings.TrimSpace(*event.CallerName)
	}
	display := name
	if display == "" {
		display = UnknownCallerName
	}

	doc := kd{
		KdNr:     "0",
		Match:    MatchCode(name),
		Name1:    display,
		Anrede:   "Firma/Damen u. Herren",
		Land:     "DE",
		Telefon:  event.From,
		KdUse:    true,
		Brutto:   false,
		Sperre:   false,
		Waehrung: "0",
	}
	return render(record.KindCall, kdList{Kd: doc})
}

// MatchCode derives a Taifun match code from a caller name: letters and
// digits only, upper-cased, at most 15 characters.
func MatchCode(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteString(strings.ToUpper(string(r)))
		n++
		if n == matchCodeMaxLen {
			break
		}
	}
	if b.Len() == 0 {
		return MatchCodeFallback
	}
	return b.String()
}
