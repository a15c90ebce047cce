package notus

import (
	jsoniter "github.com/json-iterator/go"
)

var frameJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Gateway opcodes recognized at this layer. Frames with any other
// opcode are reported through the diagnostic callback and dropped.
const (
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatAck = 11
)

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
}

type identifyFrame struct {
	Op int             `json:"op"`
	D  identifyPayload `json:"d"`
}

type heartbeatFrame struct {
	Op int    `json:"op"`
	D  *int64 `json:"d"`
}

func encodeIdentify(configuration Configuration) (string, error) {
	return frameJSON.MarshalToString(identifyFrame{
		Op: opIdentify,
		D: identifyPayload{
			Token: configuration.Token,
			Properties: identifyProperties{
				OS:      configuration.OS,
				Browser: configuration.Browser,
				Device:  configuration.Device,
			},
		},
	})
}

// encodeHeartbeat renders the heartbeat frame. sequence is nil until a
// sequence number has been observed from the server, producing a null
// d field.
func encodeHeartbeat(sequence *int64) (string, error) {
	return frameJSON.MarshalToString(heartbeatFrame{Op: opHeartbeat, D: sequence})
}

// decodeEndpoint extracts the gateway base URL from a discovery
// response body. The body must be a JSON object with a string url
// field.
func decodeEndpoint(body string) (string, bool) {
	var endpoint struct {
		URL *string `json:"url"`
	}
	if err := frameJSON.UnmarshalFromString(body, &endpoint); err != nil {
		return "", false
	}
	if endpoint.URL == nil {
		return "", false
	}
	return *endpoint.URL, true
}
