package ihc

import (
	"fmt"
	"strconv"
	"time"
)

// Namespace URIs used throughout the envelopes this package builds and
// parses. Grounded in the Python source's soapenvelope template and its
// ElementTree namespace map.
const (
	nsSOAPEnvelope = "http://schemas.xmlsoap.org/soap/envelope/"
	nsXSI          = "http://www.w3.org/2001/XMLSchema-instance"
	nsUtcs         = "utcs"
	nsUtcsValues   = "utcs.values"
)

// envelopeTemplate is the fixed SOAP 1.1 envelope this package sends for
// every action: a bare body wrapping whatever payload XML the caller
// supplies. It declares only the SOAP-ENV namespace; payloads declare the
// xsi namespace themselves where they use it.
const envelopeTemplate = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<SOAP-ENV:Envelope xmlns:SOAP-ENV="` + nsSOAPEnvelope + `">` +
	`<SOAP-ENV:Body>%s</SOAP-ENV:Body>` +
	`</SOAP-ENV:Envelope>`

// wrapEnvelope wraps a payload body fragment in the fixed SOAP envelope.
func wrapEnvelope(payload string) string {
	return fmt.Sprintf(envelopeTemplate, payload)
}

// bodyOf descends a parsed response down to SOAP-ENV:Body, failing loudly if
// the envelope is missing it -- every response this SDK parses has a body.
func bodyOf(root *element) (*element, error) {
	body := root.find("SOAP-ENV:Body")
	if body == nil {
		return nil, &ProtocolError{Msg: "response envelope has no SOAP-ENV:Body"}
	}
	if fault := body.child(nsSOAPEnvelope, "Fault"); fault != nil {
		return nil, faultError(fault)
	}
	return body, nil
}

func faultError(fault *element) error {
	code := "unknown"
	if c := fault.child("", "faultcode"); c != nil {
		code = c.text()
	}
	msg := "unknown"
	if m := fault.child("", "faultstring"); m != nil {
		msg = m.text()
	}
	return &ProtocolError{Msg: fmt.Sprintf("SOAP fault %s: %s", code, msg)}
}

// decodeValue dispatches on the value element's xsi:type attribute (of form
// "ns:WS<Kind>Value") and builds the matching ResourceValue. A value element
// with no xsi:type attribute means the controller reported no value for the
// resource, which decodes to KindAbsent rather than an error -- the
// distinction §9 asks this SDK to preserve instead of collapsing into a
// falsy sentinel.
func decodeValue(valueEl *element) (ResourceValue, error) {
	if valueEl == nil {
		return ResourceValue{}, nil
	}
	xsiType, ok := valueEl.attr(nsXSI, "type")
	if !ok {
		return ResourceValue{}, nil
	}

	_, kind, ok := splitNamePrefix(xsiType)
	if !ok {
		return ResourceValue{}, &ProtocolError{Msg: fmt.Sprintf("malformed xsi:type %q", xsiType)}
	}

	dec, ok := wireValueDecoders[kind]
	if !ok {
		return ResourceValue{Kind: KindRaw, Raw: valueEl.text()}, nil
	}
	return dec(valueEl)
}

// splitNamePrefix splits "ns1:WSBooleanValue" into ("ns1", "WSBooleanValue").
func splitNamePrefix(qname string) (prefix, local string, ok bool) {
	for i := 0; i < len(qname); i++ {
		if qname[i] == ':' {
			return qname[:i], qname[i+1:], true
		}
	}
	return "", qname, false
}

type valueDecoder func(*element) (ResourceValue, error)

var wireValueDecoders = map[string]valueDecoder{
	"WSBooleanValue":       decodeBoolValue,
	"WSIntegerValue":       decodeIntValue,
	"WSFloatingPointValue": decodeFloatValue,
	"WSEnumValue":          decodeEnumValue,
	"WSTimerValue":         decodeTimerValue,
	"WSTimeValue":          decodeTimeValue,
	"WSDateValue":          decodeDateValue,
	"WSDateTimeValue":      decodeDateTimeValue,
	"WSWeekdayValue":       decodeEnumValue,
}

func childText(el *element, local string) string {
	return childTextNS(el, nsUtcsValues, local)
}

func childInt(el *element, local string) (int, error) {
	return childIntNS(el, nsUtcsValues, local)
}

func childTextNS(el *element, ns, local string) string {
	if c := el.child(ns, local); c != nil {
		return c.text()
	}
	return ""
}

func childIntNS(el *element, ns, local string) (int, error) {
	s := childTextNS(el, ns, local)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ProtocolError{Msg: fmt.Sprintf("expected integer in <%s>, got %q", local, s), Err: err}
	}
	return v, nil
}

func decodeBoolValue(el *element) (ResourceValue, error) {
	s := childText(el, "value")
	b, err := strconv.ParseBool(s)
	if err != nil {
		return ResourceValue{}, &ProtocolError{Msg: fmt.Sprintf("expected boolean in <value>, got %q", s), Err: err}
	}
	return BoolValue(b), nil
}

func decodeIntValue(el *element) (ResourceValue, error) {
	v, err := childInt(el, "integer")
	if err != nil {
		return ResourceValue{}, err
	}
	return IntValue(v), nil
}

func decodeFloatValue(el *element) (ResourceValue, error) {
	s := childText(el, "floatingPointValue")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ResourceValue{}, &ProtocolError{Msg: fmt.Sprintf("expected float in <floatingPointValue>, got %q", s), Err: err}
	}
	return FloatValue(f), nil
}

func decodeEnumValue(el *element) (ResourceValue, error) {
	name := childText(el, "enumName")
	return EnumValue(name), nil
}

func decodeTimerValue(el *element) (ResourceValue, error) {
	ms, err := childInt(el, "milliseconds")
	if err != nil {
		return ResourceValue{}, err
	}
	return TimerValue(ms), nil
}

func decodeTimeValue(el *element) (ResourceValue, error) {
	h, err := childInt(el, "hours")
	if err != nil {
		return ResourceValue{}, err
	}
	m, err := childInt(el, "minutes")
	if err != nil {
		return ResourceValue{}, err
	}
	s, err := childInt(el, "seconds")
	if err != nil {
		return ResourceValue{}, err
	}
	return TimeValue(h, m, s), nil
}

func decodeDateValue(el *element) (ResourceValue, error) {
	year, err := childInt(el, "year")
	if err != nil {
		return ResourceValue{}, err
	}
	month, err := childInt(el, "month")
	if err != nil {
		return ResourceValue{}, err
	}
	day, err := childInt(el, "day")
	if err != nil {
		return ResourceValue{}, err
	}
	// A year of 0 means the controller left the year unset; the Python
	// source resolves it to the current year rather than reporting 0.
	if year == 0 {
		year = time.Now().Year()
	}
	return DateVal(year, month, day), nil
}

// decodeDateTimeValue reads its fields from ns1 (utcs), not ns2
// (utcs.values) -- unlike every other wire value, and with
// monthWithJanuaryAsOne instead of month.
func decodeDateTimeValue(el *element) (ResourceValue, error) {
	year, err := childIntNS(el, nsUtcs, "year")
	if err != nil {
		return ResourceValue{}, err
	}
	month, err := childIntNS(el, nsUtcs, "monthWithJanuaryAsOne")
	if err != nil {
		return ResourceValue{}, err
	}
	day, err := childIntNS(el, nsUtcs, "day")
	if err != nil {
		return ResourceValue{}, err
	}
	h, err := childIntNS(el, nsUtcs, "hours")
	if err != nil {
		return ResourceValue{}, err
	}
	m, err := childIntNS(el, nsUtcs, "minutes")
	if err != nil {
		return ResourceValue{}, err
	}
	s, err := childIntNS(el, nsUtcs, "seconds")
	if err != nil {
		return ResourceValue{}, err
	}
	if year == 0 {
		year = time.Now().Year()
	}
	return DateTimeVal(year, month, day, h, m, s), nil
}

// encodeValueElement renders a ResourceValue as the <value> element the
// controller expects in a setRuntimeValue request, bit-exact with the
// templates the Python source builds by hand (SetRuntimeValueBool/Int/Float).
func encodeValueElement(v ResourceValue) (string, error) {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf(
			`<value xsi:type="ns3:WSBooleanValue" xmlns:xsi="%s" xmlns:ns3="%s"><ns3:value>%t</ns3:value></value>`,
			nsXSI, nsUtcsValues, v.Bool), nil
	case KindInt:
		return fmt.Sprintf(
			`<value xsi:type="ns3:WSIntegerValue" xmlns:xsi="%s" xmlns:ns3="%s"><ns3:integer>%d</ns3:integer></value>`,
			nsXSI, nsUtcsValues, v.Int), nil
	case KindFloat:
		return fmt.Sprintf(
			`<value xsi:type="ns3:WSFloatingPointValue" xmlns:xsi="%s" xmlns:ns3="%s"><ns3:floatingPointValue>%g</ns3:floatingPointValue></value>`,
			nsXSI, nsUtcsValues, v.Float), nil
	default:
		return "", &ProtocolError{Msg: fmt.Sprintf("encoding %s values to the controller is not supported", v.Kind)}
	}
}
