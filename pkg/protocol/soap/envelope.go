package soap

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/protocolos/handshake/pkg/errors"
)

// Supported envelope versions.
const (
	Version11 = "1.1"
	Version12 = "1.2"
)

// Envelope namespaces per version.
const (
	namespace11 = "http://schemas.xmlsoap.org/soap/envelope/"
	namespace12 = "http://www.w3.org/2003/05/soap-envelope"
)

// ContentType returns the request media type for a version. SOAP 1.2
// carries the action as a media type parameter instead of a header.
func ContentType(version, action string) string {
	if version == Version12 {
		if action != "" {
			return fmt.Sprintf("application/soap+xml; charset=utf-8; action=%q", action)
		}
		return "application/soap+xml; charset=utf-8"
	}
	return "text/xml; charset=utf-8"
}

// BuildEnvelope wraps the payload XML in an Envelope for the given
// version. headerXML and bodyXML are inserted verbatim; the caller owns
// their well-formedness.
func BuildEnvelope(version, headerXML, bodyXML string) string {
	ns := namespace11
	if version == Version12 {
		ns = namespace12
	}
	var b strings.Builder
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<soap:Envelope xmlns:soap=%q>`, ns)
	if headerXML != "" {
		b.WriteString("<soap:Header>")
		b.WriteString(headerXML)
		b.WriteString("</soap:Header>")
	}
	b.WriteString("<soap:Body>")
	b.WriteString(bodyXML)
	b.WriteString("</soap:Body></soap:Envelope>")
	return b.String()
}

// Fault is a version-independent view of a SOAP fault.
type Fault struct {
	Code   string
	Reason string
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("soap fault %s: %s (%s)", f.Code, f.Reason, f.Detail)
	}
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.Reason)
}

// envelope11 and envelope12 cover the two fault shapes. Both are decoded
// namespace-agnostically: encoding/xml matches the local element names.
type parsedEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		InnerXML string       `xml:",innerxml"`
		Fault    *parsedFault `xml:"Fault"`
	} `xml:"Body"`
}

type parsedFault struct {
	// SOAP 1.1 children.
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail11    inner  `xml:"detail"`

	// SOAP 1.2 children.
	Code struct {
		Value string `xml:"Value"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
	Detail12 inner `xml:"Detail"`
}

type inner struct {
	XML string `xml:",innerxml"`
}

// ParseResponse decodes a response envelope, returning the Body inner
// XML and the fault if one is present. Both SOAP 1.1 and 1.2 fault
// shapes are recognized regardless of the request version, since some
// servers answer in the other dialect.
func ParseResponse(body []byte) (string, *Fault, error) {
	var env parsedEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", nil, errors.NewProtocolFaultError("response is not a SOAP envelope", err)
	}
	if env.Body.Fault == nil {
		return strings.TrimSpace(env.Body.InnerXML), nil, nil
	}

	f := env.Body.Fault
	fault := &Fault{}
	if f.FaultCode != "" || f.FaultString != "" {
		fault.Code = strings.TrimSpace(f.FaultCode)
		fault.Reason = strings.TrimSpace(f.FaultString)
		fault.Detail = strings.TrimSpace(f.Detail11.XML)
	} else {
		fault.Code = strings.TrimSpace(f.Code.Value)
		fault.Reason = strings.TrimSpace(f.Reason.Text)
		fault.Detail = strings.TrimSpace(f.Detail12.XML)
	}
	return strings.TrimSpace(env.Body.InnerXML), fault, nil
}
