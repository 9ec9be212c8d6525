package ihc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapEnvelope(t *testing.T) {
	out := wrapEnvelope("<foo/>")
	assert.Contains(t, out, `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">`)
	assert.Contains(t, out, "<SOAP-ENV:Body><foo/></SOAP-ENV:Body>")
}

func TestDecodeValueVariants(t *testing.T) {
	cases := []struct {
		name string
		xml  string
		want ResourceValue
	}{
		{
			name: "bool",
			xml:  `<value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSBooleanValue" xmlns:ns2="utcs.values"><ns2:value>true</ns2:value></value>`,
			want: BoolValue(true),
		},
		{
			name: "int",
			xml:  `<value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSIntegerValue" xmlns:ns2="utcs.values"><ns2:integer>7</ns2:integer></value>`,
			want: IntValue(7),
		},
		{
			name: "float",
			xml:  `<value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSFloatingPointValue" xmlns:ns2="utcs.values"><ns2:floatingPointValue>3.14</ns2:floatingPointValue></value>`,
			want: FloatValue(3.14),
		},
		{
			name: "absent",
			xml:  `<value xmlns:i="http://www.w3.org/2001/XMLSchema-instance"/>`,
			want: ResourceValue{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := parseXML([]byte(tc.xml))
			require.NoError(t, err)
			got, err := decodeValue(root)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeValueUnknownTypeFallsBackToRaw(t *testing.T) {
	doc := `<value xmlns:i="http://www.w3.org/2001/XMLSchema-instance" i:type="ns2:WSSomethingElseValue" xmlns:ns2="utcs.values">mystery</value>`
	root, err := parseXML([]byte(doc))
	require.NoError(t, err)
	got, err := decodeValue(root)
	require.NoError(t, err)
	assert.Equal(t, KindRaw, got.Kind)
	assert.Equal(t, "mystery", got.Raw)
}

func TestEncodeValueElementBool(t *testing.T) {
	xmlStr, err := encodeValueElement(BoolValue(true))
	require.NoError(t, err)
	assert.Contains(t, xmlStr, `xsi:type="ns3:WSBooleanValue"`)
	assert.Contains(t, xmlStr, "<ns3:value>true</ns3:value>")
}

func TestEncodeValueElementUnsupportedKind(t *testing.T) {
	_, err := encodeValueElement(EnumValue("on"))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
}

func TestBodyOfDetectsFault(t *testing.T) {
	doc := `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
		<SOAP-ENV:Body>
			<SOAP-ENV:Fault>
				<faultcode>SOAP-ENV:Server</faultcode>
				<faultstring>boom</faultstring>
			</SOAP-ENV:Fault>
		</SOAP-ENV:Body>
	</SOAP-ENV:Envelope>`
	root, err := parseXML([]byte(doc))
	require.NoError(t, err)
	_, err = bodyOf(root)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "boom")
}
