package notus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIdentify_IncludesTokenAndProperties(t *testing.T) {
	message, err := encodeIdentify(Configuration{
		Token:   "a-token",
		OS:      "linux",
		Browser: "notus",
		Device:  "notus",
	})

	require.NoError(t, err)
	assert.Equal(t,
		`{"op":2,"d":{"token":"a-token","properties":{"$os":"linux","$browser":"notus","$device":"notus"}}}`,
		message)
}

func TestEncodeIdentify_EmptyFieldsTransmittedAsIs(t *testing.T) {
	message, err := encodeIdentify(Configuration{})

	require.NoError(t, err)
	assert.Equal(t,
		`{"op":2,"d":{"token":"","properties":{"$os":"","$browser":"","$device":""}}}`,
		message)
}

func TestEncodeHeartbeat_NullBeforeAnySequence(t *testing.T) {
	message, err := encodeHeartbeat(nil)

	require.NoError(t, err)
	assert.Equal(t, `{"op":1,"d":null}`, message)
}

func TestEncodeHeartbeat_CarriesSequence(t *testing.T) {
	sequence := int64(1337)
	message, err := encodeHeartbeat(&sequence)

	require.NoError(t, err)
	assert.Equal(t, `{"op":1,"d":1337}`, message)
}

func TestDecodeEndpoint_ExtractsURL(t *testing.T) {
	url, ok := decodeEndpoint(`{"url":"wss://gateway.discord.gg"}`)

	assert.True(t, ok)
	assert.Equal(t, "wss://gateway.discord.gg", url)
}

func TestDecodeEndpoint_RejectsBadBodies(t *testing.T) {
	badBodies := []string{
		`This is " bad JSON`,
		`foobar`,
		`{"foo":"wss://gateway.discord.gg"}`,
		`{"url":6}`,
		``,
	}
	for _, body := range badBodies {
		_, ok := decodeEndpoint(body)
		assert.False(t, ok, "body: %s", body)
	}
}
