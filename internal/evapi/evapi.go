// Package evapi declares the charging-station endpoints of the admin API as
// apicache operations.
package evapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/codec"
)

// TagStation is the tag type every station read provides.
const TagStation = "Station"

type StationStatus string

const (
	StatusAvailable   StationStatus = "available"
	StatusCharging    StationStatus = "charging"
	StatusOffline     StationStatus = "offline"
	StatusMaintenance StationStatus = "maintenance"
)

func (s StationStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusCharging, StatusOffline, StatusMaintenance:
		return true
	}
	return false
}

type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type Station struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         StationStatus `json:"status"`
	Location       Location      `json:"location"`
	ConnectorCount int           `json:"connectorCount"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// StationFilter narrows ListStations. The zero value lists the first page
// of every station.
type StationFilter struct {
	Status StationStatus `json:"status,omitempty"`
	Page   int           `json:"page,omitempty"`
}

// StationPatch updates the non-nil fields of station ID.
type StationPatch struct {
	ID     string         `json:"-"`
	Name   *string        `json:"name,omitempty"`
	Status *StationStatus `json:"status,omitempty"`
}

type NewStation struct {
	Name           string   `json:"name"`
	Location       Location `json:"location"`
	ConnectorCount int      `json:"connectorCount"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Session is what Login returns; Token goes to token.Manager.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func stationTags(stations []Station) []apicache.Tag {
	tags := make([]apicache.Tag, 0, len(stations)+1)
	tags = append(tags, apicache.ListTag(TagStation))
	for _, s := range stations {
		tags = append(tags, apicache.PointTag(TagStation, s.ID))
	}
	return tags
}

func stationStatus(data json.RawMessage) (*wrapperspb.StringValue, error) {
	var s struct {
		Status StationStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return wrapperspb.String(string(s.Status)), nil
}

// Persisted station results are compact: lists as msgpack, single stations
// as deterministic CBOR, status views as protobuf. The first two read the
// json tags.
var (
	ListStations = apicache.Query[StationFilter, []Station]{
		Name: "listStations",
		Request: func(f StationFilter) apicache.Request {
			q := url.Values{}
			if f.Status != "" {
				q.Set("status", string(f.Status))
			}
			if f.Page > 0 {
				q.Set("page", strconv.Itoa(f.Page))
			}
			return apicache.Request{Method: http.MethodGet, Path: "/stations", Query: q}
		},
		ProvidesTags: func(r []Station, _ StationFilter) []apicache.Tag { return stationTags(r) },
		Codec:        codec.Msgpack[[]Station]{},
	}

	GetStation = apicache.Query[string, Station]{
		Name: "getStation",
		Request: func(id string) apicache.Request {
			return apicache.Request{Method: http.MethodGet, Path: "/stations/" + url.PathEscape(id)}
		},
		ProvidesTags: func(_ Station, id string) []apicache.Tag {
			return []apicache.Tag{apicache.PointTag(TagStation, id)}
		},
		Codec: codec.MustCBOR[Station](true),
	}

	// GetStationStatus reads only the status of one station. It shares the
	// point tag with GetStation, so station updates refresh both.
	GetStationStatus = apicache.Query[string, *wrapperspb.StringValue]{
		Name: "getStationStatus",
		Request: func(id string) apicache.Request {
			return apicache.Request{Method: http.MethodGet, Path: "/stations/" + url.PathEscape(id)}
		},
		Transform: stationStatus,
		ProvidesTags: func(_ *wrapperspb.StringValue, id string) []apicache.Tag {
			return []apicache.Tag{apicache.PointTag(TagStation, id)}
		},
		Codec: codec.NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }),
	}

	UpdateStation = apicache.Mutation[StationPatch, Station]{
		Name: "updateStation",
		Request: func(p StationPatch) apicache.Request {
			return apicache.Request{Method: http.MethodPatch, Path: "/stations/" + url.PathEscape(p.ID), Body: p}
		},
		InvalidatesTags: func(r Station, _ error, p StationPatch) []apicache.Tag {
			id := r.ID
			if id == "" {
				id = p.ID
			}
			return []apicache.Tag{apicache.PointTag(TagStation, id), apicache.ListTag(TagStation)}
		},
	}

	CreateStation = apicache.Mutation[NewStation, Station]{
		Name: "createStation",
		Request: func(s NewStation) apicache.Request {
			return apicache.Request{Method: http.MethodPost, Path: "/stations", Body: s}
		},
		InvalidatesTags: func(Station, error, NewStation) []apicache.Tag {
			return []apicache.Tag{apicache.ListTag(TagStation)}
		},
	}

	Login = apicache.Mutation[Credentials, Session]{
		Name: "login",
		Request: func(c Credentials) apicache.Request {
			return apicache.Request{Method: http.MethodPost, Path: "/auth/login", Body: c}
		},
	}
)

// Operations lists every endpoint for apicache.Options.Operations.
func Operations() []apicache.Operation {
	return []apicache.Operation{ListStations, GetStation, GetStationStatus, UpdateStation, CreateStation, Login}
}
