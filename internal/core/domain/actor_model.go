package domain

const (
	ACTOR_ID_MASTER = "master"
	ACTOR_ID_TWIN   = "twin"
	ACTOR_ID_OTA    = "ota"
)

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// ToggleApplianceRequest flips an output on behalf of the local control surface.
type ToggleApplianceRequest struct {
	ActorRequestMixIn
	Id ApplianceId
}

type ToggleApplianceResponse struct {
	ActorResponseMixIn
	Id    ApplianceId
	State bool
}

type GetAppliancesRequest struct {
	ActorRequestMixIn
}

type GetAppliancesResponse struct {
	ActorResponseMixIn
	Appliances []Appliance
	Streaming  bool
}

type CheckForUpdateRequest struct {
	ActorRequestMixIn
}

type CheckForUpdateResponse struct {
	ActorResponseMixIn
	Started bool
}
