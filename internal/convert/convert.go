// Package convert maps source documents onto Taifun import documents.
//
// Conversion is pure: no I/O, no clock, identical input yields identical
// output.
package convert

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/livinlefevreloca/relay/internal/record"
)

// TaifunNamespace is the default namespace of every Taifun import document.
const TaifunNamespace = "urn:taifun-software.de:schema:TAIFUN"

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ErrConversion marks data errors. They are never retried.
var ErrConversion = errors.New("convert: conversion failed")

// ConversionError describes why a source document could not be converted.
type ConversionError struct {
	Kind   record.Kind
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("convert %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("convert %s: %s", e.Kind, e.Reason)
}

func (e *ConversionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConversion, e.Err}
	}
	return []error{ErrConversion}
}

// Convert maps a source document of the given kind to its target document.
func Convert(kind record.Kind, source string) (string, error) {
	switch kind {
	case record.KindOrder:
		return Order(source)
	case record.KindCall:
		return Call(source)
	default:
		return "", &ConversionError{Kind: kind, Reason: "unsupported record kind"}
	}
}

func render(kind record.Kind, doc any) (string, error) {
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", &ConversionError{Kind: kind, Reason: "render target document", Err: err}
	}
	return xmlHeader + string(out), nil
}
