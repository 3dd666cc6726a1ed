package nearby

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/pkg/pagination"
	"github.com/confesso/core/internal/pkg/response"
	"github.com/confesso/core/internal/region"
)

const deviceHeader = "X-Device-Id"

type Handler struct {
	svc       *Service
	minRadius int
	maxRadius int
}

func NewHandler(svc *Service, minRadius, maxRadius int) *Handler {
	return &Handler{svc: svc, minRadius: minRadius, maxRadius: maxRadius}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/feed", h.feed)

	g := rg.Group("/regions")
	g.GET("", h.regions)
	g.GET("/detect", h.detect)
	g.GET("/:id/cities", h.cities)
}

// GET /feed?lat=&lng=&radius=&sort=&estado=&municipio=
func (h *Handler) feed(c *gin.Context) {
	q := Query{
		DeviceID:  c.GetHeader(deviceHeader),
		Estado:    strings.ToUpper(strings.TrimSpace(c.Query("estado"))),
		Municipio: strings.TrimSpace(c.Query("municipio")),
	}

	user, ok, err := parseCoordinate(c)
	if err != nil {
		response.BadRequest(c, "Localização inválida")
		return
	}
	if ok {
		q.User = &user
	}

	if raw := strings.TrimSpace(c.Query("radius")); raw != "" {
		km, err := strconv.Atoi(raw)
		if err != nil || km < h.minRadius || km > h.maxRadius {
			response.BadRequest(c, "Raio inválido")
			return
		}
		q.RadiusKm = km
	}

	key, err := feed.ParseSortKey(c.Query("sort"))
	if err != nil {
		response.BadRequest(c, "Ordenação inválida")
		return
	}
	q.Sort = key

	items, err := h.svc.Feed(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, ErrInvalidLocation) {
			response.BadRequest(c, "Localização inválida")
			return
		}
		response.InternalError(c, err)
		return
	}
	page, pag := pagination.Slice(items, pagination.FromContext(c))
	response.Paged(c, page, pag)
}

// GET /regions
func (h *Handler) regions(c *gin.Context) {
	response.OK(c, h.svc.Regions())
}

// GET /regions/:id/cities
func (h *Handler) cities(c *gin.Context) {
	cities, err := h.svc.Cities(c.Param("id"))
	if errors.Is(err, region.ErrUnknownRegion) {
		response.NotFoundMsg(c, "Estado desconhecido")
		return
	}
	response.OK(c, cities)
}

// GET /regions/detect?lat=&lng=
func (h *Handler) detect(c *gin.Context) {
	coord, ok, err := parseCoordinate(c)
	if err != nil || !ok {
		response.BadRequest(c, "Localização inválida")
		return
	}
	place, err := h.svc.Detect(c.Request.Context(), coord)
	switch {
	case err == nil:
		response.OK(c, place)
	case errors.Is(err, ErrInvalidLocation):
		response.BadRequest(c, "Localização inválida")
	case errors.Is(err, geocode.ErrLookup):
		response.ServiceUnavailable(c, "Não foi possível identificar sua região, tente novamente")
	default:
		response.InternalError(c, err)
	}
}

// parseCoordinate reads lat/lng query parameters. Both absent is not an
// error; ok is false then.
func parseCoordinate(c *gin.Context) (geo.Coordinate, bool, error) {
	rawLat := strings.TrimSpace(c.Query("lat"))
	rawLng := strings.TrimSpace(c.Query("lng"))
	if rawLat == "" && rawLng == "" {
		return geo.Coordinate{}, false, nil
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return geo.Coordinate{}, false, err
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return geo.Coordinate{}, false, err
	}
	coord := geo.Coordinate{Latitude: lat, Longitude: lng}
	if !coord.Valid() {
		return geo.Coordinate{}, false, ErrInvalidLocation
	}
	return coord, true, nil
}
