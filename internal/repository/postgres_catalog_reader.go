package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/jackc/pgx/v5"
)

// PostgresCatalogReader reads display data from the accommodations and
// room_types tables owned by the catalog service
type PostgresCatalogReader struct {
	db *database.PostgresDB
}

// NewPostgresCatalogReader creates a new PostgresCatalogReader
func NewPostgresCatalogReader(db *database.PostgresDB) *PostgresCatalogReader {
	return &PostgresCatalogReader{db: db}
}

// Lookup returns accommodation and room type display data
func (r *PostgresCatalogReader) Lookup(ctx context.Context, accommodationID, roomTypeID string) (*domain.CatalogEntry, error) {
	entry := &domain.CatalogEntry{
		AccommodationID: accommodationID,
		RoomTypeID:      roomTypeID,
	}

	var (
		name     *string
		address  *string
		image    *string
		roomName *string
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT a.name, a.address, a.image_url, rt.name
		FROM accommodations a
		LEFT JOIN room_types rt ON rt.id::text = $2 AND rt.accommodation_id = a.id
		WHERE a.id::text = $1
	`, accommodationID, roomTypeID).Scan(&name, &address, &image, &roomName)
	if errors.Is(err, pgx.ErrNoRows) {
		return entry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog entry: %w", err)
	}

	entry.AccommodationName = derefString(name)
	entry.AccommodationAddress = derefString(address)
	entry.AccommodationImage = derefString(image)
	entry.RoomTypeName = derefString(roomName)
	return entry, nil
}
