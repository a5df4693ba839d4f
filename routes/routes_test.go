package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"slotkeeper/config"
	"slotkeeper/database"
	"slotkeeper/handlers"
	"slotkeeper/internal/testutil"
	"slotkeeper/internal/testutil/memstore"
	"slotkeeper/models"
	"slotkeeper/services/availability"
	"slotkeeper/services/booking"
	"slotkeeper/services/idempotency"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type RoutesTestSuite struct {
	suite.Suite
	router   *gin.Engine
	slots    *memstore.SlotRepo
	bookings *memstore.BookingRepo
	tokenP1  string
	tokenP2  string
}

func TestRoutesSuite(t *testing.T) {
	suite.Run(t, new(RoutesTestSuite))
}

func (s *RoutesTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(s.T())

	prevCfg, prevLogger := config.AppConfig, utils.Logger
	s.T().Cleanup(func() { config.AppConfig, utils.Logger = prevCfg, prevLogger })
	config.AppConfig.JWTSecret = "routes-secret"
	config.AppConfig.AdminToken = "admin-secret"
	config.AppConfig.CORSAllowedOrigins = "*"
	utils.Logger = logger

	clock := utils.NewFixedClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	cache := utils.NewMemoryCache(clock)
	s.slots = memstore.NewSlotRepo()
	s.bookings = memstore.NewBookingRepo()
	providers := memstore.NewProviderRepo(
		models.Provider{ID: "p1", Profile: models.Profile{ProviderName: "Studio", Email: "studio@example.com"}},
		models.Provider{ID: "p2"},
	)

	store := availability.NewStore(s.slots, cache, time.Minute, clock, 0, time.UTC, logger)
	mat := availability.NewMaterializer(s.slots, clock, 0, logger)
	idem := idempotency.New(cache, time.Minute, logger)

	av := &availability.DefaultAvailabilityService{
		Store:        store,
		Validator:    availability.NewConflictValidator(s.slots, s.bookings),
		Materializer: mat,
		Bookings:     s.bookings,
		Idempotency:  idem,
		Transactor:   database.NoopTransactor{},
		Clock:        clock,
		Location:     time.UTC,
		Logger:       logger,
	}
	bk := &booking.DefaultBookingService{
		Bookings:     s.bookings,
		Providers:    providers,
		Slots:        store,
		Materializer: mat,
		Transactor:   database.NoopTransactor{},
		Idempotency:  idem,
		Clock:        clock,
		Location:     time.UTC,
		Logger:       logger,
	}

	hb := handlers.NewHandlerBundle(providers, utils.NewMemoryCache(utils.SystemClock{}),
		handlers.NewAvailabilityHandler(av), handlers.NewBookingHandler(bk), handlers.HealthHandler)
	s.router = gin.New()
	RegisterRoutes(s.router, hb)

	s.tokenP1 = testutil.ProviderToken(s.T(), "p1", "studio@example.com", time.Hour)
	s.tokenP2 = testutil.ProviderToken(s.T(), "p2", "", time.Hour)
}

func (s *RoutesTestSuite) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *RoutesTestSuite) decode(w *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func oneOffBody(date string, fromH, toH int) gin.H {
	d, _ := time.Parse(models.DateLayout, date)
	start := d.Add(time.Duration(fromH) * time.Hour)
	return gin.H{
		"kind":      models.SlotKindOneOff,
		"startTime": start,
		"endTime":   d.Add(time.Duration(toH) * time.Hour),
	}
}

func (s *RoutesTestSuite) createSlot(date string, fromH, toH int) models.AvailabilitySlot {
	w := s.do(http.MethodPost, "/api/providers/p1/slots", s.tokenP1, oneOffBody(date, fromH, toH))
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Slot models.AvailabilitySlot `json:"slot"`
	}
	s.decode(w, &res)
	return res.Slot
}

func (s *RoutesTestSuite) TestSlotManagementRequiresOwnToken() {
	body := oneOffBody("2025-03-14", 9, 10)
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/providers/p1/slots", "", body).Code)
	s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/api/providers/p1/slots", s.tokenP2, body).Code)

	slot := s.createSlot("2025-03-14", 9, 10)
	s.Equal("p1", slot.ProviderID)
	s.Equal(60, slot.DurationMinutes)

	w := s.do(http.MethodDelete, "/api/slots/"+slot.ID, s.tokenP2, nil)
	s.Equal(http.StatusForbidden, w.Code)
	s.Len(s.slots.All(), 1)
}

func (s *RoutesTestSuite) TestOverlappingSlotReturnsConflictDetails() {
	existing := s.createSlot("2025-03-14", 9, 10)

	w := s.do(http.MethodPost, "/api/providers/p1/slots", s.tokenP1, oneOffBody("2025-03-14", 9, 11))
	s.Require().Equal(http.StatusConflict, w.Code)
	var res utils.ErrorResponse
	s.decode(w, &res)
	s.Require().NotEmpty(res.Conflicts)
	s.Equal(existing.ID, res.Conflicts[0].ID)
}

func (s *RoutesTestSuite) TestBulkDryRunAndIdempotencyHeader() {
	body := gin.H{
		"slots":   []gin.H{oneOffBody("2025-03-14", 9, 10), oneOffBody("2025-03-14", 10, 11)},
		"options": gin.H{"dryRun": true},
	}
	w := s.do(http.MethodPost, "/api/providers/p1/slots/bulk", s.tokenP1, body)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.Empty(s.slots.All())

	body["options"] = gin.H{}
	first := s.do(http.MethodPost, "/api/providers/p1/slots/bulk", s.tokenP1, body, handlers.IdempotencyHeader, "bulk-1")
	s.Require().Equal(http.StatusCreated, first.Code, first.Body.String())
	again := s.do(http.MethodPost, "/api/providers/p1/slots/bulk", s.tokenP1, body, handlers.IdempotencyHeader, "bulk-1")
	s.Require().Equal(http.StatusCreated, again.Code)
	s.JSONEq(first.Body.String(), again.Body.String())
	s.Len(s.slots.All(), 2)
}

func (s *RoutesTestSuite) TestPublicListing() {
	s.createSlot("2025-03-14", 9, 10)
	s.createSlot("2025-03-21", 9, 10)

	w := s.do(http.MethodGet, "/api/providers/p1/slots?end=2025-03-15T00:00:00Z", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var res struct {
		Slots []models.AvailabilitySlot `json:"slots"`
	}
	s.decode(w, &res)
	s.Len(res.Slots, 1)

	s.Equal(http.StatusBadRequest, s.do(http.MethodGet, "/api/providers/p1/slots?start=tomorrow", "", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/slots/ghost", "", nil).Code)
}

func (s *RoutesTestSuite) TestBookingLifecycle() {
	slot := s.createSlot("2025-03-14", 9, 10)
	req := gin.H{
		"providerId": "p1",
		"slot":       gin.H{"kind": "persisted", "id": slot.ID},
		"guestName":  "Ann",
		"guestEmail": "ann@example.com",
		"startTime":  slot.StartTime,
		"endTime":    slot.EndTime,
	}

	w := s.do(http.MethodPost, "/api/bookings", "", req)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var created models.BookingResult
	s.decode(w, &created)
	s.Require().Len(created.Bookings, 1)
	b := created.Bookings[0]
	s.Equal(models.BookingStatusConfirmed, b.Status)

	req["guestName"] = "Bob"
	w = s.do(http.MethodPost, "/api/bookings", "", req)
	s.Require().Equal(http.StatusConflict, w.Code)
	var conflict utils.ErrorResponse
	s.decode(w, &conflict)
	s.Contains(conflict.Details, b.SerialKey)

	w = s.do(http.MethodGet, "/api/bookings/serial/"+b.SerialKey, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/providers/p1/bookings", s.tokenP1, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var listed struct {
		Bookings []models.Booking `json:"bookings"`
	}
	s.decode(w, &listed)
	s.Len(listed.Bookings, 1)

	w = s.do(http.MethodPatch, "/api/bookings/"+b.ID, "", gin.H{"status": models.BookingStatusCancelled})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPatch, "/api/bookings/"+b.ID, "", gin.H{"status": models.BookingStatusConfirmed})
	s.Equal(http.StatusBadRequest, w.Code)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/bookings", "", gin.H{"providerId": "p1"}).Code)
}

func (s *RoutesTestSuite) TestAdminCleanup() {
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/admin/slots/cleanup", s.tokenP1, nil).Code)

	w := s.do(http.MethodPost, "/api/admin/slots/cleanup", "admin-secret", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var res struct {
		Removed int `json:"removed"`
	}
	s.decode(w, &res)
	s.Equal(0, res.Removed)
}
