// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transform converts raw market documents into flat lists of
// typed measurement records. The upstream document model is a small
// closed set of tagged variants, one per document shape; everything
// downstream only sees the flat record list.
package transform

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// RawDocument is one upstream market document. Concrete types are the
// closed set of supported document shapes.
type RawDocument interface {
	// DocumentID returns the upstream document identifier (mRID).
	DocumentID() string
	// Revision returns the upstream document revision number.
	Revision() int
	// Raw returns the original document payload as received.
	Raw() []byte
}

// ErrUnknownDocument is returned by Decode for document shapes outside
// the supported set.
var ErrUnknownDocument = errors.New("unknown market document type")

type xmlTimeInterval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

type xmlPoint struct {
	Position int     `xml:"position"`
	Quantity float64 `xml:"quantity"`
	Price    float64 `xml:"price.amount"`
}

type xmlPeriod struct {
	TimeInterval xmlTimeInterval `xml:"timeInterval"`
	Resolution   string          `xml:"resolution"`
	Points       []xmlPoint      `xml:"Point"`
}

type xmlSeries struct {
	MRID         string      `xml:"mRID"`
	BusinessType string      `xml:"businessType"`
	QuantityUnit string      `xml:"quantity_Measure_Unit.name"`
	PriceUnit    string      `xml:"price_Measure_Unit.name"`
	CurrencyUnit string      `xml:"currency_Unit.name"`
	Periods      []xmlPeriod `xml:"Period"`
}

// PublicationDocument is the price/flow document shape
// (Publication_MarketDocument).
type PublicationDocument struct {
	XMLName        xml.Name    `xml:"Publication_MarketDocument"`
	MRID           string      `xml:"mRID"`
	RevisionNumber int         `xml:"revisionNumber"`
	TimeSeries     []xmlSeries `xml:"TimeSeries"`
	raw            []byte
}

func (d *PublicationDocument) DocumentID() string { return d.MRID }
func (d *PublicationDocument) Revision() int      { return d.RevisionNumber }
func (d *PublicationDocument) Raw() []byte        { return d.raw }

// GLDocument is the generation/load document shape
// (GL_MarketDocument).
type GLDocument struct {
	XMLName        xml.Name    `xml:"GL_MarketDocument"`
	MRID           string      `xml:"mRID"`
	RevisionNumber int         `xml:"revisionNumber"`
	TimeSeries     []xmlSeries `xml:"TimeSeries"`
	raw            []byte
}

func (d *GLDocument) DocumentID() string { return d.MRID }
func (d *GLDocument) Revision() int      { return d.RevisionNumber }
func (d *GLDocument) Raw() []byte        { return d.raw }

// Decode parses a raw payload into one of the supported document
// variants, selected by the XML root element.
func Decode(payload []byte) (RawDocument, error) {
	root, err := rootElement(payload)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	switch root {
	case "Publication_MarketDocument":
		var doc PublicationDocument
		if err := xml.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("decode publication document: %w", err)
		}
		doc.raw = payload
		return &doc, nil
	case "GL_MarketDocument":
		var doc GLDocument
		if err := xml.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("decode GL document: %w", err)
		}
		doc.raw = payload
		return &doc, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, root)
	}
}

func rootElement(payload []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("no root element found")
			}
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
