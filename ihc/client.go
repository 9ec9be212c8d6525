package ihc

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// SoapClient implements the LK IHC controller's SOAP services on top of a
// Session. Every method here corresponds 1:1 to a controller operation; the
// request/response shapes are grounded in the Python source's IHCSoapClient
// and IHCController.
type SoapClient struct {
	s *Session
}

// NewSoapClient wraps an already-constructed Session.
func NewSoapClient(s *Session) *SoapClient {
	return &SoapClient{s: s}
}

// Authenticate logs in with username/password/application, establishing the
// session cookie used by every subsequent call. Application mirrors the
// Python source's hardcoded "treeview" client identity.
func (c *SoapClient) Authenticate(ctx context.Context, username, password string) error {
	payload := fmt.Sprintf(
		`<authenticate1 xmlns="%s" xmlns:i="%s">`+
			`<password>%s</password><username>%s</username><application>treeview</application>`+
			`</authenticate1>`,
		nsUtcs, nsXSI, xmlEscape(password), xmlEscape(username))

	root, err := c.s.soapAction(ctx, "AuthenticationService", "authenticate", payload)
	if err != nil {
		return err
	}
	body, err := bodyOf(root)
	if err != nil {
		return err
	}
	ok := body.find("ns1:authenticate2/ns1:loginWasSuccessful")
	if ok == nil {
		return &ProtocolError{Msg: "authenticate response missing loginWasSuccessful"}
	}
	if ok.text() != "true" {
		return &AuthError{Msg: "invalid username or password"}
	}
	return nil
}

// GetRuntimeValue reads a single resource's current value.
func (c *SoapClient) GetRuntimeValue(ctx context.Context, resourceID int) (ResourceValue, error) {
	payload := fmt.Sprintf(`<getRuntimeValue1 xmlns="%s">%d</getRuntimeValue1>`, nsUtcs, resourceID)
	root, err := c.s.soapAction(ctx, "ResourceInteractionService", "getResourceValue", payload)
	if err != nil {
		return ResourceValue{}, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return ResourceValue{}, err
	}
	valueEl := body.find("ns1:getRuntimeValue2/ns1:value")
	return decodeValue(valueEl)
}

// GetRuntimeValues reads several resources in a single round trip, returning
// a map keyed by resource ID for whichever of them the controller reported.
func (c *SoapClient) GetRuntimeValues(ctx context.Context, resourceIDs []int) (map[int]ResourceValue, error) {
	var items strings.Builder
	for _, id := range resourceIDs {
		fmt.Fprintf(&items, `<a:arrayItem>%d</a:arrayItem>`, id)
	}
	payload := fmt.Sprintf(
		`<getRuntimeValues1 xmlns="%s" xmlns:a="http://www.w3.org/2001/XMLSchema" xmlns:i="%s">%s</getRuntimeValues1>`,
		nsUtcs, nsXSI, items.String())

	root, err := c.s.soapAction(ctx, "ResourceInteractionService", "getResourceValues", payload)
	if err != nil {
		return nil, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return nil, err
	}

	out := make(map[int]ResourceValue)
	for _, item := range body.findAll("ns1:getRuntimeValues2/ns1:arrayItem") {
		idEl := item.child(nsUtcs, "resourceID")
		if idEl == nil {
			continue
		}
		id, err := strconv.Atoi(idEl.text())
		if err != nil {
			continue
		}
		v, err := decodeValue(item.child(nsUtcs, "value"))
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// SetRuntimeValue writes a single scalar resource value. Only Bool, Int and
// Float kinds can be written, matching the Python source's three
// SetRuntimeValue{Bool,Int,Float} entry points collapsed into one dispatch.
func (c *SoapClient) SetRuntimeValue(ctx context.Context, resourceID int, v ResourceValue) (bool, error) {
	valueXML, err := encodeValueElement(v)
	if err != nil {
		return false, err
	}
	payload := fmt.Sprintf(
		`<setResourceValue1 xmlns="%s" xmlns:i="%s">%s<typeString/><resourceID>%d</resourceID>`+
			`<isValueRuntime>true</isValueRuntime></setResourceValue1>`,
		nsUtcs, nsXSI, valueXML, resourceID)

	root, err := c.s.soapAction(ctx, "ResourceInteractionService", "setResourceValue", payload)
	if err != nil {
		return false, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return false, err
	}
	result := body.child(nsUtcs, "setResourceValue2")
	if result == nil {
		return false, &ProtocolError{Msg: "setResourceValue response missing result"}
	}
	return result.text() == "true", nil
}

// ResourceWrite pairs a resource ID with the value to write it, for batch
// writes via SetRuntimeValues.
type ResourceWrite struct {
	ResourceID int
	Value      ResourceValue
}

// SetRuntimeValues writes several scalar resource values in a single round
// trip via one setResourceValues1 array holding one item per write, in the
// order given.
func (c *SoapClient) SetRuntimeValues(ctx context.Context, writes []ResourceWrite) (bool, error) {
	var items strings.Builder
	for _, w := range writes {
		valueXML, err := encodeValueElement(w.Value)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(&items,
			`<a:arrayItem>%s<typeString/><resourceID>%d</resourceID><isValueRuntime>true</isValueRuntime></a:arrayItem>`,
			valueXML, w.ResourceID)
	}
	payload := fmt.Sprintf(
		`<setResourceValues1 xmlns="%s" xmlns:a="http://www.w3.org/2001/XMLSchema" xmlns:i="%s">%s</setResourceValues1>`,
		nsUtcs, nsXSI, items.String())

	root, err := c.s.soapAction(ctx, "ResourceInteractionService", "setResourceValues", payload)
	if err != nil {
		return false, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return false, err
	}
	result := body.child(nsUtcs, "setResourceValues2")
	if result == nil {
		return false, &ProtocolError{Msg: "setResourceValues response missing result"}
	}
	return result.text() == "true", nil
}

// CycleBool sets a boolean resource true then false, e.g. for a momentary
// pushbutton input. It sends exactly one POST containing a two-item
// setResourceValues1 array -- true then false -- rather than two separate
// setResourceValue round trips.
func (c *SoapClient) CycleBool(ctx context.Context, resourceID int) error {
	ok, err := c.SetRuntimeValues(ctx, []ResourceWrite{
		{ResourceID: resourceID, Value: BoolValue(true)},
		{ResourceID: resourceID, Value: BoolValue(false)},
	})
	if err != nil {
		return err
	}
	if !ok {
		return &ProtocolError{Msg: fmt.Sprintf("setResourceValues cycle on %d rejected", resourceID)}
	}
	return nil
}

// EnableRuntimeValueNotifications registers resource IDs with the
// controller's notification subsystem so that subsequent
// WaitForResourceValueChanges calls can report changes to them.
func (c *SoapClient) EnableRuntimeValueNotifications(ctx context.Context, resourceIDs []int) error {
	var items strings.Builder
	for _, id := range resourceIDs {
		fmt.Fprintf(&items, `<a:arrayItem>%d</a:arrayItem>`, id)
	}
	payload := fmt.Sprintf(
		`<enableRuntimeValueNotifications1 xmlns="%s" xmlns:a="http://www.w3.org/2001/XMLSchema" xmlns:i="%s">%s</enableRuntimeValueNotifications1>`,
		nsUtcs, nsXSI, items.String())

	_, err := c.s.soapAction(ctx, "ResourceInteractionService", "enableRuntimeValueNotifications", payload)
	return err
}

// ResourceChange pairs a resource ID with its new value, as reported by one
// entry of a waitForResourceValueChanges reply.
type ResourceChange struct {
	ResourceID int
	Value      ResourceValue
}

// WaitForResourceValueChanges long-polls the controller, returning the
// change list the controller reported (possibly empty) within wait seconds
// of request arrival, in the controller's reply order. Multiple entries for
// the same resource ID are preserved -- callers that only want the latest
// value per ID should pass the result through DedupeChanges.
func (c *SoapClient) WaitForResourceValueChanges(ctx context.Context, waitSeconds int) ([]ResourceChange, error) {
	payload := fmt.Sprintf(`<waitForResourceValueChanges1 xmlns="%s">%d</waitForResourceValueChanges1>`, nsUtcs, waitSeconds)

	root, err := c.s.soapAction(ctx, "ResourceInteractionService", "waitForResourceValueChanges", payload)
	if err != nil {
		return nil, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return nil, err
	}

	var changes []ResourceChange
	for _, item := range body.findAll("ns1:waitForResourceValueChanges2/ns1:arrayItem") {
		idEl := item.child(nsUtcs, "resourceID")
		if idEl == nil {
			continue
		}
		id, err := strconv.Atoi(idEl.text())
		if err != nil {
			continue
		}
		v, err := decodeValue(item.child(nsUtcs, "value"))
		if err != nil {
			return nil, err
		}
		changes = append(changes, ResourceChange{ResourceID: id, Value: v})
	}
	return changes, nil
}

// DedupeChanges collapses an ordered change list to the last reported value
// per resource ID.
func DedupeChanges(changes []ResourceChange) map[int]ResourceValue {
	out := make(map[int]ResourceValue, len(changes))
	for _, ch := range changes {
		out[ch.ResourceID] = ch.Value
	}
	return out
}

// GetProject downloads the controller's project file: base64-decoded,
// gzip-inflated (zlib window bits MAX_WBITS+16, i.e. raw gzip framing), then
// decoded from ISO-8859-1 -- bit-exact with the Python source's
// base64.b64decode / zlib.decompress(16+MAX_WBITS) / .decode('ISO-8859-1')
// pipeline. golang.org/x/text supplies the ISO-8859-1 decoder stdlib lacks.
func (c *SoapClient) GetProject(ctx context.Context) (string, error) {
	root, err := c.s.soapAction(ctx, "ControllerService", "getIHCProject", `<getIHCProject1 xmlns="`+nsUtcs+`"/>`)
	if err != nil {
		return "", err
	}
	body, err := bodyOf(root)
	if err != nil {
		return "", err
	}
	dataEl := body.find("ns1:getIHCProject1/ns1:data")
	if dataEl == nil {
		return "", &ProtocolError{Msg: "getIHCProject response missing data"}
	}

	raw, err := base64.StdEncoding.DecodeString(dataEl.text())
	if err != nil {
		return "", &ProtocolError{Msg: "project payload is not valid base64", Err: err}
	}

	inflated, err := gunzipRaw(raw)
	if err != nil {
		return "", &ProtocolError{Msg: "project payload failed to decompress", Err: err}
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(inflated)
	if err != nil {
		return "", &ProtocolError{Msg: "project payload failed ISO-8859-1 decode", Err: err}
	}
	return string(decoded), nil
}

// GetProjectInfo, GetIHCProjectNumberOfSegments and GetIHCProjectSegment
// support retrieving the project in bounded segments instead of the single
// getIHCProject call, for controllers whose project is too large for one
// response.

// ProjectInfo describes a controller's stored project without downloading
// it.
type ProjectInfo struct {
	VisualMinorVersion int
	VisualMajorVersion int
	ProjectMajorRevision int
	ProjectMinorRevision int
	LastModified       DateTimeValue
}

func (c *SoapClient) GetProjectInfo(ctx context.Context) (ProjectInfo, error) {
	root, err := c.s.soapAction(ctx, "ControllerService", "getProjectInfo", `<getProjectInfo1 xmlns="`+nsUtcs+`"/>`)
	if err != nil {
		return ProjectInfo{}, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return ProjectInfo{}, err
	}
	info := body.find("ns1:getProjectInfo2")
	if info == nil {
		return ProjectInfo{}, &ProtocolError{Msg: "getProjectInfo response missing payload"}
	}
	get := func(name string) int {
		if c := info.child(nsUtcs, name); c != nil {
			v, _ := strconv.Atoi(c.text())
			return v
		}
		return 0
	}
	return ProjectInfo{
		VisualMinorVersion:   get("visualMinorVersion"),
		VisualMajorVersion:   get("visualMajorVersion"),
		ProjectMajorRevision: get("projectMajorRevision"),
		ProjectMinorRevision: get("projectMinorRevision"),
	}, nil
}

func (c *SoapClient) GetIHCProjectNumberOfSegments(ctx context.Context) (int, error) {
	root, err := c.s.soapAction(ctx, "ControllerService", "getIHCProjectNumberOfSegments", `<getIHCProjectNumberOfSegments1 xmlns="`+nsUtcs+`"/>`)
	if err != nil {
		return 0, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return 0, err
	}
	el := body.child(nsUtcs, "getIHCProjectNumberOfSegments2")
	if el == nil {
		return 0, &ProtocolError{Msg: "response missing segment count"}
	}
	n, err := strconv.Atoi(el.text())
	if err != nil {
		return 0, &ProtocolError{Msg: "segment count is not an integer", Err: err}
	}
	return n, nil
}

func (c *SoapClient) GetIHCProjectSegment(ctx context.Context, index, majorVersion, minorVersion int) ([]byte, error) {
	payload := fmt.Sprintf(
		`<getIHCProjectSegment1 xmlns="%s">%d</getIHCProjectSegment1>`+
			`<getIHCProjectSegment2 xmlns="%s">%d</getIHCProjectSegment2>`+
			`<getIHCProjectSegment3 xmlns="%s">%d</getIHCProjectSegment3>`,
		nsUtcs, index, nsUtcs, majorVersion, nsUtcs, minorVersion)
	root, err := c.s.soapAction(ctx, "ControllerService", "getIHCProjectSegment", payload)
	if err != nil {
		return nil, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return nil, err
	}
	data := body.find("ns1:getIHCProjectSegment4/ns1:data")
	if data == nil {
		return nil, &ProtocolError{Msg: "response missing segment data"}
	}
	raw, err := base64.StdEncoding.DecodeString(data.text())
	if err != nil {
		return nil, &ProtocolError{Msg: "segment payload is not valid base64", Err: err}
	}
	return raw, nil
}

// GetSystemInfo decodes the controller's ConfigurationService.getSystemInfo
// reply generically as a map of direct child element names to text content,
// since the server -- not this client -- owns the fixed key set.
func (c *SoapClient) GetSystemInfo(ctx context.Context) (map[string]string, error) {
	root, err := c.s.soapAction(ctx, "ConfigurationService", "getSystemInfo", `<getSystemInfo1 xmlns="`+nsUtcs+`"/>`)
	if err != nil {
		return nil, err
	}
	body, err := bodyOf(root)
	if err != nil {
		return nil, err
	}
	info := body.find("ns1:getSystemInfo2")
	if info == nil {
		return nil, &ProtocolError{Msg: "getSystemInfo response missing payload"}
	}
	out := make(map[string]string, len(info.Children))
	for _, child := range info.Children {
		out[child.Name.Local] = child.text()
	}
	return out, nil
}

func (c *SoapClient) GetUserLog(ctx context.Context, language string) (string, error) {
	payload := fmt.Sprintf(`<getUserLog1 xmlns="%s">%s</getUserLog1>`, nsUtcs, xmlEscape(language))
	root, err := c.s.soapAction(ctx, "ConfigurationService", "getUserLog", payload)
	if err != nil {
		return "", err
	}
	body, err := bodyOf(root)
	if err != nil {
		return "", err
	}
	el := body.child(nsUtcs, "getUserLog2")
	if el == nil {
		return "", &ProtocolError{Msg: "getUserLog response missing payload"}
	}
	return el.text(), nil
}

func (c *SoapClient) ClearUserLog(ctx context.Context) error {
	_, err := c.s.soapAction(ctx, "ConfigurationService", "clearUserLog", `<clearUserLog1 xmlns="`+nsUtcs+`"/>`)
	return err
}

// GetState reports the controller's current lifecycle state as a short
// string (e.g. "text.ctrl.state.ready").
func (c *SoapClient) GetState(ctx context.Context) (string, error) {
	root, err := c.s.soapAction(ctx, "ControllerService", "getState", `<getState1 xmlns="`+nsUtcs+`"/>`)
	if err != nil {
		return "", err
	}
	body, err := bodyOf(root)
	if err != nil {
		return "", err
	}
	el := body.child(nsUtcs, "getState2")
	if el == nil {
		return "", &ProtocolError{Msg: "getState response missing payload"}
	}
	return el.text(), nil
}

// WaitForControllerStateChange long-polls for the controller to leave
// currentState, returning the new state.
func (c *SoapClient) WaitForControllerStateChange(ctx context.Context, currentState string, waitSeconds int) (string, error) {
	payload := fmt.Sprintf(
		`<waitForControllerStateChange1 xmlns="%s">%s</waitForControllerStateChange1>`+
			`<waitForControllerStateChange2 xmlns="%s">%d</waitForControllerStateChange2>`,
		nsUtcs, xmlEscape(currentState), nsUtcs, waitSeconds)
	root, err := c.s.soapAction(ctx, "ControllerService", "waitForControllerStateChange", payload)
	if err != nil {
		return "", err
	}
	body, err := bodyOf(root)
	if err != nil {
		return "", err
	}
	el := body.child(nsUtcs, "waitForControllerStateChange3")
	if el == nil {
		return "", &ProtocolError{Msg: "waitForControllerStateChange response missing payload"}
	}
	return el.text(), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// gunzipRaw inflates data produced with zlib.MAX_WBITS+16 framing, which is
// ordinary gzip framing -- compress/gzip reads it directly.
func gunzipRaw(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
