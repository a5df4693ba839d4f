package bookingRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Create inserts a new booking document.
func (repo *MongoBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := repo.bookingColl.InsertOne(ctx, booking); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSerialKey
		}
		return fmt.Errorf("error creating booking: %w", err)
	}
	return nil
}

// CreateMany inserts the bookings of a series in order.
func (repo *MongoBookingRepo) CreateMany(ctx context.Context, bookings []models.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	docs := make([]interface{}, len(bookings))
	for i := range bookings {
		docs[i] = bookings[i]
	}
	if _, err := repo.bookingColl.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSerialKey
		}
		return fmt.Errorf("error creating bookings: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by its ID.
func (repo *MongoBookingRepo) GetByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	return repo.findOne(ctx, bson.M{"id": bookingID})
}

// GetBySerialKey retrieves a booking by its human-readable reference.
func (repo *MongoBookingRepo) GetBySerialKey(ctx context.Context, serialKey string) (*models.Booking, error) {
	return repo.findOne(ctx, bson.M{"serialKey": serialKey})
}

func (repo *MongoBookingRepo) findOne(ctx context.Context, filter bson.M) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var booking models.Booking
	err := repo.bookingColl.FindOne(ctx, filter).Decode(&booking)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find booking: %w", err)
	}
	return &booking, nil
}

// Update modifies an existing booking document, conditioned on its previous status.
func (repo *MongoBookingRepo) Update(ctx context.Context, booking *models.Booking, expectedStatus models.BookingStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": booking.ID, "status": expectedStatus}
	update := bson.M{"$set": bson.M{
		"status":     booking.Status,
		"guestName":  booking.GuestName,
		"guestEmail": booking.GuestEmail,
		"guestPhone": booking.GuestPhone,
		"notes":      booking.Notes,
		"updatedAt":  booking.UpdatedAt,
	}}
	res, err := repo.bookingColl.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error updating booking %s: %w", booking.ID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := repo.GetByID(ctx, booking.ID); err != nil {
			return err
		}
		return ErrStatusChanged
	}
	return nil
}

// DeleteByID removes a booking record; used to compensate a failed fallback write.
func (repo *MongoBookingRepo) DeleteByID(ctx context.Context, bookingID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := repo.bookingColl.DeleteOne(ctx, bson.M{"id": bookingID})
	if err != nil {
		return fmt.Errorf("error deleting booking %s: %w", bookingID, err)
	}
	if res.DeletedCount == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (repo *MongoBookingRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := repo.bookingColl.DeleteMany(ctx, bson.M{"id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("error deleting bookings: %w", err)
	}
	return nil
}

// DeleteByAvailabilityIDs cascades a slot cleanup onto the bookings that referenced the slots.
func (repo *MongoBookingRepo) DeleteByAvailabilityIDs(ctx context.Context, availabilityIDs []string) (int64, error) {
	if len(availabilityIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := repo.bookingColl.DeleteMany(ctx, bson.M{"availabilityId": bson.M{"$in": availabilityIDs}})
	if err != nil {
		return 0, fmt.Errorf("error deleting bookings of removed slots: %w", err)
	}
	return res.DeletedCount, nil
}
