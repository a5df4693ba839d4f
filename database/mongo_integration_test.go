//go:build integration

package database_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"slotkeeper/database"
	availabilityRepo "slotkeeper/database/repository/availability"
	bookingRepo "slotkeeper/database/repository/booking"
	providerRepo "slotkeeper/database/repository/provider"
	"slotkeeper/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepoSuite struct {
	suite.Suite
	container testcontainers.Container
	client    *mongo.Client
	db        *mongo.Database
	slots     availabilityRepo.AvailabilityRepository
	bookings  bookingRepo.BookingRepository
}

func TestMongoRepoSuite(t *testing.T) {
	suite.Run(t, new(MongoRepoSuite))
}

func (s *MongoRepoSuite) SetupSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(90 * time.Second),
			Labels:       map[string]string{"purpose": "integration-tests"},
		},
		Started: true,
	})
	s.Require().NoError(err, "start mongo container")
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	s.Require().NoError(err)

	s.client, err = mongo.Connect(ctx, options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	s.Require().NoError(err)
	s.Require().NoError(s.client.Ping(ctx, nil))
}

func (s *MongoRepoSuite) TearDownSuite() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.client != nil {
		_ = s.client.Disconnect(ctx)
	}
	if s.container != nil {
		if err := s.container.Terminate(ctx); err != nil {
			s.T().Logf("terminate mongo container: %v", err)
		}
	}
}

func (s *MongoRepoSuite) SetupTest() {
	s.db = s.client.Database("slotkeeper_" + uuid.NewString()[:8])
	s.slots = availabilityRepo.NewMongoAvailabilityRepo(s.db)
	s.bookings = bookingRepo.NewMongoBookingRepo(s.db)
	ctx := context.Background()
	s.Require().NoError(s.slots.EnsureIndexes(ctx))
	s.Require().NoError(s.bookings.EnsureIndexes(ctx))
}

func (s *MongoRepoSuite) TearDownTest() {
	_ = s.db.Drop(context.Background())
}

func slotAt(providerID, date string, hour int) models.AvailabilitySlot {
	d, _ := time.Parse(models.DateLayout, date)
	start := d.Add(time.Duration(hour) * time.Hour)
	return models.AvailabilitySlot{
		ProviderID:      providerID,
		Kind:            models.SlotKindOneOff,
		Date:            date,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		DurationMinutes: 60,
		MaxBookings:     1,
		Status:          models.SlotStatusActive,
	}
}

func (s *MongoRepoSuite) TestStandaloneServerHasNoTransactions() {
	ok, err := database.SupportsTransactions(context.Background(), s.client)
	s.Require().NoError(err)
	s.False(ok)

	tx := database.NewMongoTransactor(s.client, ok)
	called := false
	s.NoError(tx.WithTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	}))
	s.True(called)
}

func (s *MongoRepoSuite) TestMarkBookedIsCompareAndSet() {
	ctx := context.Background()
	slot := slotAt("p1", "2025-03-14", 9)
	s.Require().NoError(s.slots.Create(ctx, &slot))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.slots.MarkBooked(ctx, slot.ID, fmt.Sprintf("b%d", i))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			s.True(errors.Is(err, availabilityRepo.ErrSlotAlreadyBooked), "got %v", err)
		}(i)
	}
	wg.Wait()
	s.Equal(1, wins)

	held, err := s.slots.GetByID(ctx, slot.ID)
	s.Require().NoError(err)
	s.True(held.IsBooked)

	s.ErrorIs(s.slots.MarkAvailable(ctx, slot.ID, "someone-else"), availabilityRepo.ErrSlotNotHeld)
	s.Require().NoError(s.slots.MarkAvailable(ctx, slot.ID, held.BookingID))
	released, err := s.slots.GetByID(ctx, slot.ID)
	s.Require().NoError(err)
	s.False(released.IsBooked)

	s.ErrorIs(s.slots.MarkBooked(ctx, "missing", "b1"), availabilityRepo.ErrSlotNotFound)
}

func (s *MongoRepoSuite) TestTemplatesCannotBeBooked() {
	ctx := context.Background()
	dow := int(time.Friday)
	tmpl := slotAt("p1", "", 9)
	tmpl.Kind, tmpl.DayOfWeek = models.SlotKindRecurring, &dow
	s.Require().NoError(s.slots.Create(ctx, &tmpl))

	s.Error(s.slots.MarkBooked(ctx, tmpl.ID, "b1"))

	templates, err := s.slots.GetTemplates(ctx, "p1", &dow)
	s.Require().NoError(err)
	s.Require().Len(templates, 1)
	s.Equal(tmpl.ID, templates[0].ID)
}

func (s *MongoRepoSuite) TestInstanceUniqueness() {
	ctx := context.Background()
	first := slotAt("p1", "2025-03-14", 9)
	first.TemplateID = "t1"
	s.Require().NoError(s.slots.Create(ctx, &first))

	dup := slotAt("p1", "2025-03-14", 9)
	dup.TemplateID = "t1"
	s.ErrorIs(s.slots.Create(ctx, &dup), availabilityRepo.ErrDuplicateInstance)

	// Standalone slots are not constrained by the instance index.
	a, b := slotAt("p1", "2025-03-15", 9), slotAt("p1", "2025-03-15", 9)
	s.NoError(s.slots.Create(ctx, &a))
	s.NoError(s.slots.Create(ctx, &b))
}

func (s *MongoRepoSuite) TestRangeQueriesAndDeletes() {
	ctx := context.Background()
	for _, date := range []string{"2025-03-10", "2025-03-12", "2025-03-14"} {
		slot := slotAt("p1", date, 9)
		s.Require().NoError(s.slots.Create(ctx, &slot))
	}
	other := slotAt("p2", "2025-03-12", 9)
	s.Require().NoError(s.slots.Create(ctx, &other))

	rows, err := s.slots.GetByProviderAndDateRange(ctx, "p1", "2025-03-11", "2025-03-14")
	s.Require().NoError(err)
	s.Len(rows, 2)

	removed, err := s.slots.DeleteOneOffBefore(ctx, "2025-03-12")
	s.Require().NoError(err)
	s.Len(removed, 1)

	removed, err = s.slots.DeleteUnbookedByProviderAndDate(ctx, "p1", "2025-03-12")
	s.Require().NoError(err)
	s.Len(removed, 1)

	left, err := s.slots.GetByProviderAndDateRange(ctx, "p1", "", "")
	s.Require().NoError(err)
	s.Len(left, 1)
}

func booking(id, serial string, start time.Time, status models.BookingStatus) *models.Booking {
	return &models.Booking{
		ID: id, ProviderID: "p1", AvailabilityID: "slot-" + id, SerialKey: serial,
		GuestName: "Ann", GuestEmail: "ann@example.com",
		StartTime: start, EndTime: start.Add(time.Hour), Status: status,
	}
}

func (s *MongoRepoSuite) TestBookingSerialUniquenessAndCAS() {
	ctx := context.Background()
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	b := booking("b1", "BK-20250314-AAAAAAAA", start, models.BookingStatusPending)
	s.Require().NoError(s.bookings.Create(ctx, b))
	s.ErrorIs(s.bookings.Create(ctx, booking("b2", "BK-20250314-AAAAAAAA", start, models.BookingStatusPending)), bookingRepo.ErrDuplicateSerialKey)

	bySerial, err := s.bookings.GetBySerialKey(ctx, "BK-20250314-AAAAAAAA")
	s.Require().NoError(err)
	s.Equal("b1", bySerial.ID)

	confirmed := *b
	confirmed.Status = models.BookingStatusConfirmed
	s.Require().NoError(s.bookings.Update(ctx, &confirmed, models.BookingStatusPending))

	stale := *b
	stale.Status = models.BookingStatusCancelled
	s.ErrorIs(s.bookings.Update(ctx, &stale, models.BookingStatusPending), bookingRepo.ErrStatusChanged)

	missing := *b
	missing.ID = "ghost"
	s.ErrorIs(s.bookings.Update(ctx, &missing, models.BookingStatusPending), bookingRepo.ErrBookingNotFound)
}

func (s *MongoRepoSuite) TestFindActiveOverlapping() {
	ctx := context.Background()
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.bookings.CreateMany(ctx, []models.Booking{
		*booking("b1", "BK-1", start, models.BookingStatusConfirmed),
		*booking("b2", "BK-2", start.Add(time.Hour), models.BookingStatusPending),
		*booking("b3", "BK-3", start, models.BookingStatusCancelled),
	}))

	got, err := s.bookings.FindActiveOverlapping(ctx, "p1", start.Add(30*time.Minute), start.Add(90*time.Minute), "")
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.bookings.FindActiveOverlapping(ctx, "p1", start.Add(time.Hour), start.Add(2*time.Hour), "b2")
	s.Require().NoError(err)
	s.Empty(got, "touching ranges do not overlap and exclusions apply")

	n, err := s.bookings.DeleteByAvailabilityIDs(ctx, []string{"slot-b1", "slot-b3"})
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	listed, err := s.bookings.ListByProvider(ctx, "p1", time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Len(listed, 1)
}

func (s *MongoRepoSuite) TestProviderProjection() {
	ctx := context.Background()
	_, err := s.db.Collection("providers").InsertOne(ctx, bson.M{
		"id":          "p1",
		"profile":     bson.M{"providerName": "Studio", "email": "studio@example.com"},
		"preferences": bson.M{"timezone": "Africa/Nairobi", "bookingApprovalMode": "manual"},
		"security":    bson.M{"fcmToken": "token", "passwordHash": "secret"},
	})
	s.Require().NoError(err)

	repo := providerRepo.NewMongoProviderRepo(s.db)
	p, err := repo.GetByID(ctx, "p1")
	s.Require().NoError(err)
	s.Equal("studio@example.com", p.Profile.Email)
	s.True(p.RequiresApproval())
	s.Equal("token", p.Security.FCMToken)

	_, err = repo.GetByID(ctx, "ghost")
	s.ErrorIs(err, providerRepo.ErrProviderNotFound)
}
