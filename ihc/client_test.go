package ihc

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*SoapClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	s, err := NewSession(srv.URL, WithInsecureSkipVerify(), WithMinInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(); srv.Close() })
	return NewSoapClient(s), srv
}

func envelope(body string) string {
	return `<?xml version="1.0"?><SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<SOAP-ENV:Body>` + body + `</SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

func TestAuthenticateSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<authenticate2 xmlns="utcs"><loginWasSuccessful>true</loginWasSuccessful></authenticate2>`))
	})
	err := client.Authenticate(context.Background(), "user", "pass")
	assert.NoError(t, err)
}

func TestAuthenticateFailure(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<authenticate2 xmlns="utcs"><loginWasSuccessful>false</loginWasSuccessful></authenticate2>`))
	})
	err := client.Authenticate(context.Background(), "user", "wrong")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestGetRuntimeValueBool(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<getRuntimeValue2 xmlns="utcs"><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSBooleanValue" xmlns:ns2="utcs.values"><ns2:value>true</ns2:value></value></getRuntimeValue2>`))
	})
	v, err := client.GetRuntimeValue(context.Background(), 12345)
	require.NoError(t, err)
	assert.Equal(t, BoolValue(true), v)
}

func TestGetRuntimeValueAbsent(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<getRuntimeValue2 xmlns="utcs"><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance"/></getRuntimeValue2>`))
	})
	v, err := client.GetRuntimeValue(context.Background(), 12345)
	require.NoError(t, err)
	assert.True(t, v.IsAbsent())
}

func TestSetRuntimeValueBoolRoundTrip(t *testing.T) {
	var gotBody string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, envelope(`<setResourceValue2 xmlns="utcs">true</setResourceValue2>`))
	})
	ok, err := client.SetRuntimeValue(context.Background(), 99, BoolValue(true))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, gotBody, `WSBooleanValue`)
	assert.Contains(t, gotBody, `<resourceID>99</resourceID>`)
}

func TestCycleBoolSendsTrueThenFalse(t *testing.T) {
	var bodies []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		io.WriteString(w, envelope(`<setResourceValues2 xmlns="utcs">true</setResourceValues2>`))
	})
	err := client.CycleBool(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	trueIdx := strings.Index(bodies[0], "<ns3:value>true</ns3:value>")
	falseIdx := strings.Index(bodies[0], "<ns3:value>false</ns3:value>")
	require.True(t, trueIdx >= 0 && falseIdx >= 0, "expected both true and false value fragments in %q", bodies[0])
	assert.Less(t, trueIdx, falseIdx)
}

func TestSetRuntimeValuesBatch(t *testing.T) {
	var gotBody string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, envelope(`<setResourceValues2 xmlns="utcs">true</setResourceValues2>`))
	})
	ok, err := client.SetRuntimeValues(context.Background(), []ResourceWrite{
		{ResourceID: 1, Value: BoolValue(true)},
		{ResourceID: 2, Value: IntValue(5)},
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, gotBody, `<resourceID>1</resourceID>`)
	assert.Contains(t, gotBody, `<resourceID>2</resourceID>`)
}

func TestWaitForResourceValueChanges(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<waitForResourceValueChanges2 xmlns="utcs">
			<arrayItem><resourceID>1</resourceID><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSBooleanValue" xmlns:ns2="utcs.values"><ns2:value>true</ns2:value></value></arrayItem>
			<arrayItem><resourceID>2</resourceID><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSIntegerValue" xmlns:ns2="utcs.values"><ns2:integer>5</ns2:integer></value></arrayItem>
		</waitForResourceValueChanges2>`))
	})
	changes, err := client.WaitForResourceValueChanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, ResourceChange{ResourceID: 1, Value: BoolValue(true)}, changes[0])
	assert.Equal(t, ResourceChange{ResourceID: 2, Value: IntValue(5)}, changes[1])
}

func TestWaitForResourceValueChangesPreservesOrderForDuplicateID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<waitForResourceValueChanges2 xmlns="utcs">
			<arrayItem><resourceID>7</resourceID><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSBooleanValue" xmlns:ns2="utcs.values"><ns2:value>true</ns2:value></value></arrayItem>
			<arrayItem><resourceID>7</resourceID><value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSBooleanValue" xmlns:ns2="utcs.values"><ns2:value>false</ns2:value></value></arrayItem>
		</waitForResourceValueChanges2>`))
	})
	changes, err := client.WaitForResourceValueChanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, ResourceChange{ResourceID: 7, Value: BoolValue(true)}, changes[0])
	assert.Equal(t, ResourceChange{ResourceID: 7, Value: BoolValue(false)}, changes[1])

	deduped := DedupeChanges(changes)
	assert.Equal(t, BoolValue(false), deduped[7])
}

func iso8859Gzip(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	// The fixture text is plain ASCII, which is identical in UTF-8 and
	// ISO-8859-1, so writing it directly is a faithful stand-in for
	// ISO-8859-1-encoded project XML without pulling in an encoder here too.
	_, err := gw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestGetProjectDecodesBase64GzipPayload(t *testing.T) {
	const projectXML = `<?xml version="1.0"?><project><group id="1"/></project>`
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		encoded := iso8859Gzip(t, projectXML)
		io.WriteString(w, envelope(fmt.Sprintf(`<getIHCProject1 xmlns="utcs"><data>%s</data></getIHCProject1>`, encoded)))
	})
	got, err := client.GetProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, projectXML, got)
}

func TestGetSystemInfoDecodesGenerically(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, envelope(`<getSystemInfo2 xmlns="utcs"><serialNumber>ABC123</serialNumber><version>4.4.1</version></getSystemInfo2>`))
	})
	info, err := client.GetSystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", info["serialNumber"])
	assert.Equal(t, "4.4.1", info["version"])
}

func TestGetStateAndWaitForControllerStateChange(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("SOAPAction"), "waitForControllerStateChange") {
			io.WriteString(w, envelope(`<waitForControllerStateChange3 xmlns="utcs">text.ctrl.state.ready</waitForControllerStateChange3>`))
			return
		}
		io.WriteString(w, envelope(`<getState2 xmlns="utcs">text.ctrl.state.initialize</getState2>`))
	})
	state, err := client.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "text.ctrl.state.initialize", state)

	ready, err := client.WaitForControllerStateChange(context.Background(), state, 10)
	require.NoError(t, err)
	assert.Equal(t, "text.ctrl.state.ready", ready)
}
