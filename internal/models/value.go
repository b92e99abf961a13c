package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldKind is the value variant a field stores
type FieldKind string

const (
	KindText         FieldKind = "text"
	KindMultiSelect  FieldKind = "multi_select"
	KindPhoto        FieldKind = "photo"
	KindCompositeOCR FieldKind = "composite_ocr"
	KindSignature    FieldKind = "signature"
)

// AllKinds lists every value variant
var AllKinds = []FieldKind{KindText, KindMultiSelect, KindPhoto, KindCompositeOCR, KindSignature}

// KindForType maps a server field type tag to its value variant.
// Unknown tags store plain text.
func KindForType(tag string) FieldKind {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "checkbox", "multiselect", "multi_select", "multipla_escolha":
		return KindMultiSelect
	case "foto", "photo", "camera", "imagem":
		return KindPhoto
	case "leitura_automatica", "ocr":
		return KindCompositeOCR
	case "assinatura", "signature":
		return KindSignature
	default:
		return KindText
	}
}

// ParseKind validates a kind name
func ParseKind(s string) (FieldKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown field kind %q", s)
}

// Value is the answer stored for one field. The set of implementations is
// closed; switch on Kind() or a type switch to handle every variant.
type Value interface {
	Kind() FieldKind
	// Wire returns the primitive value the remote API accepts
	Wire() any
	isValue()
}

// Text is a free-text or single-choice answer
type Text string

// MultiSelect holds every checked option
type MultiSelect []string

// Photo references a captured image (usually a data URL)
type Photo struct {
	URI string
}

// CompositeOCR is a photo plus the text recognised in it. Only the photo
// travels to the server.
type CompositeOCR struct {
	PhotoURI string
	Text     string
}

// Signature references a captured signature image
type Signature struct {
	URI string
}

func (Text) Kind() FieldKind         { return KindText }
func (MultiSelect) Kind() FieldKind  { return KindMultiSelect }
func (Photo) Kind() FieldKind        { return KindPhoto }
func (CompositeOCR) Kind() FieldKind { return KindCompositeOCR }
func (Signature) Kind() FieldKind    { return KindSignature }

func (v Text) Wire() any { return string(v) }

func (v MultiSelect) Wire() any {
	if v == nil {
		return []string{}
	}
	return []string(v)
}

func (v Photo) Wire() any        { return v.URI }
func (v CompositeOCR) Wire() any { return v.PhotoURI }
func (v Signature) Wire() any    { return v.URI }

func (Text) isValue()         {}
func (MultiSelect) isValue()  {}
func (Photo) isValue()        {}
func (CompositeOCR) isValue() {}
func (Signature) isValue()    {}

// valueEnvelope is the on-disk shape of a Value
type valueEnvelope struct {
	Kind    FieldKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Items   []string  `json:"items,omitempty"`
	URI     string    `json:"uri,omitempty"`
	OCRText string    `json:"ocr_text,omitempty"`
}

// EncodeValue serializes a value with its kind tag
func EncodeValue(v Value) ([]byte, error) {
	var env valueEnvelope
	switch val := v.(type) {
	case Text:
		env = valueEnvelope{Kind: KindText, Text: string(val)}
	case MultiSelect:
		env = valueEnvelope{Kind: KindMultiSelect, Items: []string(val)}
	case Photo:
		env = valueEnvelope{Kind: KindPhoto, URI: val.URI}
	case CompositeOCR:
		env = valueEnvelope{Kind: KindCompositeOCR, URI: val.PhotoURI, OCRText: val.Text}
	case Signature:
		env = valueEnvelope{Kind: KindSignature, URI: val.URI}
	case nil:
		return nil, fmt.Errorf("encode value: nil")
	default:
		return nil, fmt.Errorf("encode value: unsupported type %T", v)
	}
	return json.Marshal(env)
}

// DecodeValue parses the output of EncodeValue
func DecodeValue(data []byte) (Value, error) {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch env.Kind {
	case KindText:
		return Text(env.Text), nil
	case KindMultiSelect:
		return MultiSelect(env.Items), nil
	case KindPhoto:
		return Photo{URI: env.URI}, nil
	case KindCompositeOCR:
		return CompositeOCR{PhotoURI: env.URI, Text: env.OCRText}, nil
	case KindSignature:
		return Signature{URI: env.URI}, nil
	default:
		return nil, fmt.Errorf("decode value: unknown kind %q", env.Kind)
	}
}

// ParseValue builds a value of the given kind from command-line style
// arguments. CompositeOCR takes the photo URI followed by the recognised text.
func ParseValue(kind FieldKind, args []string) (Value, error) {
	switch kind {
	case KindText:
		return Text(strings.Join(args, " ")), nil
	case KindMultiSelect:
		items := make([]string, 0, len(args))
		for _, a := range args {
			for _, part := range strings.Split(a, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
		}
		return MultiSelect(items), nil
	case KindPhoto:
		if len(args) != 1 {
			return nil, fmt.Errorf("photo takes exactly one uri")
		}
		return Photo{URI: args[0]}, nil
	case KindCompositeOCR:
		if len(args) < 1 {
			return nil, fmt.Errorf("composite_ocr takes a uri and optional text")
		}
		return CompositeOCR{PhotoURI: args[0], Text: strings.Join(args[1:], " ")}, nil
	case KindSignature:
		if len(args) != 1 {
			return nil, fmt.Errorf("signature takes exactly one uri")
		}
		return Signature{URI: args[0]}, nil
	default:
		return nil, fmt.Errorf("unknown field kind %q", kind)
	}
}

// FormatValue renders a value for humans
func FormatValue(v Value) string {
	switch val := v.(type) {
	case Text:
		return string(val)
	case MultiSelect:
		return strings.Join(val, ", ")
	case Photo:
		return abbreviateURI(val.URI)
	case CompositeOCR:
		return fmt.Sprintf("%s (%s)", val.Text, abbreviateURI(val.PhotoURI))
	case Signature:
		return abbreviateURI(val.URI)
	default:
		return ""
	}
}

func abbreviateURI(uri string) string {
	if strings.HasPrefix(uri, "data:") {
		if i := strings.Index(uri, ","); i > 0 {
			return uri[:i] + ",…"
		}
	}
	return uri
}
