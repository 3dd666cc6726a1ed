package session

import (
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/region"
)

// Client to server message types.
const (
	MsgPermissionStatus = "PERMISSION_STATUS"
	MsgLocation         = "LOCATION"
	MsgLocationError    = "LOCATION_ERROR"
	MsgCheckPermission  = "CHECK_PERMISSION"
	MsgRetryPermission  = "RETRY_PERMISSION"
	MsgGoToSettings     = "GO_TO_SETTINGS"
	MsgRefreshLocation  = "REFRESH_LOCATION"
	MsgSetRadius        = "SET_RADIUS"
	MsgSelectEstado     = "SELECT_ESTADO"
	MsgSelectMunicipio  = "SELECT_MUNICIPIO"
	MsgClearFilters     = "CLEAR_FILTERS"
	MsgSetSort          = "SET_SORT"
	MsgSelectSecret     = "SELECT_SECRET"
	MsgSetCommentSort   = "SET_COMMENT_SORT"
	MsgDeselectSecret   = "DESELECT_SECRET"
)

// Server to client event types.
const (
	EventFeedUpdate        = "FEED_UPDATE"
	EventPermissionState   = "PERMISSION_STATE"
	EventLocationState     = "LOCATION_STATE"
	EventFilterState       = "FILTER_STATE"
	EventCommentsUpdate    = "COMMENTS_UPDATE"
	EventPermissionRequest = "PERMISSION_REQUEST"
	EventLocationRequest   = "LOCATION_REQUEST"
	EventOpenSettings      = "OPEN_SETTINGS"
	EventError             = "SESSION_ERROR"
)

// Emitter sends one event to the client.
type Emitter func(event string, payload interface{})

type FeedUpdate struct {
	Items []feed.Item `json:"items"`
	State feed.State  `json:"state"`
}

type FilterUpdate struct {
	Region      region.State `json:"region"`
	RadiusKm    int          `json:"radiusKm"`
	MinRadiusKm int          `json:"minRadiusKm"`
	MaxRadiusKm int          `json:"maxRadiusKm"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type permissionRequestPayload struct {
	RequestID string `json:"requestId"`
	Prompt    bool   `json:"prompt"`
}

type locationRequestPayload struct {
	RequestID string `json:"requestId"`
}

type permissionStatusPayload struct {
	RequestID   string `json:"requestId"`
	Granted     bool   `json:"granted"`
	CanAskAgain bool   `json:"canAskAgain"`
}

type locationPayload struct {
	RequestID string   `json:"requestId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type locationErrorPayload struct {
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

type radiusPayload struct {
	Km int `json:"km"`
}

type estadoPayload struct {
	Estado string `json:"estado"`
}

type municipioPayload struct {
	Municipio string `json:"municipio"`
}

type sortPayload struct {
	Sort string `json:"sort"`
}

type selectSecretPayload struct {
	ID   string `json:"id"`
	Sort string `json:"sort"`
}
