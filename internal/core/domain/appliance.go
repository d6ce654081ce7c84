package domain

import "strconv"

const (
	STATE_ON  = "ON"
	STATE_OFF = "OFF"

	MAX_APPLIANCE_ID = 255
)

// ApplianceId is the output pin number driving the appliance.
type ApplianceId uint8

func (id ApplianceId) String() string {
	return strconv.Itoa(int(id))
}

func ParseApplianceId(s string) (ApplianceId, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return ApplianceId(v), nil
}

type Appliance struct {
	Id    ApplianceId `json:"pin"`
	Name  string      `json:"name"`
	State bool        `json:"state"`
}

// ApplianceSpec is the declarative part of an appliance, as stored in
// configuration documents.
type ApplianceSpec struct {
	Name string      `json:"name"`
	Id   ApplianceId `json:"pin"`
}

func StateString(on bool) string {
	if on {
		return STATE_ON
	}
	return STATE_OFF
}
