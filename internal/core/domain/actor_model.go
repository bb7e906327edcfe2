package domain

import "emu2mqtt/pkg/emupower"

const (
	ACTOR_ID_MASTER    = "master"
	ACTOR_ID_METER     = "meter"
	ACTOR_ID_POLLER    = "poller"
	ACTOR_ID_MQTT      = "mqtt"
	ACTOR_ID_DISCOVERY = "discovery"
)

type GetDeviceInfoRequest struct {
	ActorRequestMixIn
}

type GetDeviceInfoResponse struct {
	ActorResponseMixIn
	Info *emupower.DeviceInfo
}

type GetCurrentSummationRequest struct {
	ActorRequestMixIn
}

// Reading is nil when the device stayed silent within the request timeout.
type GetCurrentSummationResponse struct {
	ActorResponseMixIn
	Reading *RawReading
}

type GetInstantaneousDemandRequest struct {
	ActorRequestMixIn
}

type GetInstantaneousDemandResponse struct {
	ActorResponseMixIn
	Reading *RawReading
}

// RestartLinkRequest forces a close+reopen of the serial link after too
// many consecutive non-responses.
type RestartLinkRequest struct {
	ActorRequestMixIn
}

type RestartLinkResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
