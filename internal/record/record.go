package record

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the record families driven through the pipeline.
type Kind string

const (
	KindOrder Kind = "order"
	KindCall  Kind = "call"
)

// Status is a position in a kind's status sequence.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScraped   Status = "scraped"
	StatusReceived  Status = "received"
	StatusConverted Status = "converted"
	StatusSent      Status = "sent"
)

// Format tags an export with the document format it holds.
type Format string

const (
	FormatHapodu Format = "hapodu" // SAP IDoc XML fetched from the order portal
	FormatAgfeo  Format = "agfeo"  // JSON capture of a phone-system call event
	FormatTaifun Format = "taifun" // Taifun import XML
)

var (
	ErrUnknownKind       = errors.New("record: unknown kind")
	ErrUnknownStatus     = errors.New("record: unknown status")
	ErrInvalidTransition = errors.New("record: invalid status transition")
)

// sequences is the single forward-transition table. A status may only move
// to itself or to its immediate successor.
var sequences = map[Kind][]Status{
	KindOrder: {StatusPending, StatusScraped, StatusConverted, StatusSent},
	KindCall:  {StatusReceived, StatusConverted, StatusSent},
}

// ParseKind converts a caller-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sequences[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) String() string { return string(k) }

// Statuses returns the kind's status sequence in order.
func (k Kind) Statuses() []Status {
	seq := sequences[k]
	out := make([]Status, len(seq))
	copy(out, seq)
	return out
}

// InitialStatus is the status a record of this kind is created with.
func (k Kind) InitialStatus() Status {
	return sequences[k][0]
}

// SourceStatus is the status a record rests at once its source export is persisted.
func (k Kind) SourceStatus() Status {
	if k == KindOrder {
		return StatusScraped
	}
	return StatusReceived
}

func (k Kind) SourceFormat() Format {
	if k == KindOrder {
		return FormatHapodu
	}
	return FormatAgfeo
}

func (k Kind) TargetFormat() Format {
	return FormatTaifun
}

// Rank returns the position of s in the kind's sequence.
func (k Kind) Rank(s Status) (int, bool) {
	for i, candidate := range sequences[k] {
		if candidate == s {
			return i, true
		}
	}
	return 0, false
}

// Reached reports whether status has advanced at least as far as target.
func (k Kind) Reached(status, target Status) bool {
	have, ok := k.Rank(status)
	if !ok {
		return false
	}
	want, ok := k.Rank(target)
	if !ok {
		return false
	}
	return have >= want
}

// CheckTransition validates a status write against the transition table.
// Rewriting the current status is allowed so that re-run stages stay idempotent.
func CheckTransition(kind Kind, from, to Status) error {
	if _, ok := sequences[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	fromRank, ok := kind.Rank(from)
	if !ok {
		return fmt.Errorf("%w: %q for kind %s", ErrUnknownStatus, from, kind)
	}
	toRank, ok := kind.Rank(to)
	if !ok {
		return fmt.Errorf("%w: %q for kind %s", ErrUnknownStatus, to, kind)
	}
	if toRank == fromRank || toRank == fromRank+1 {
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
}

// Filename returns the deterministic remote filename for a record's target document.
func Filename(kind Kind, ref, documentNo string) string {
	if kind == KindCall {
		return fmt.Sprintf("call_%s.xml", ref)
	}
	return fmt.Sprintf("order_%s_%s.xml", ref, documentNo)
}

var numberCleaner = strings.NewReplacer("+", "", " ", "", "-", "")

// CallKey derives the idempotency key of a call event from the caller
// number and the event timestamp.
func CallKey(from string, ts time.Time) string {
	return ts.Format("20060102150405") + "_" + numberCleaner.Replace(from)
}
