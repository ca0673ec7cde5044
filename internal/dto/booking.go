package dto

import (
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of check-in and check-out dates
const DateLayout = "2006-01-02"

// CreateBookingRequest represents request to book and pay for a stay
type CreateBookingRequest struct {
	AccommodationID string          `json:"accommodation_id" binding:"required"`
	RoomTypeID      string          `json:"room_type_id" binding:"required"`
	CheckInDate     string          `json:"check_in_date" binding:"required"`
	CheckOutDate    string          `json:"check_out_date" binding:"required"`
	NumRooms        int             `json:"num_rooms" binding:"required,min=1,max=20"`
	NumGuests       int             `json:"num_guests" binding:"required,min=1,max=50"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

// Dates parses the stay dates
func (r *CreateBookingRequest) Dates() (checkIn, checkOut time.Time, err error) {
	checkIn, err = time.Parse(DateLayout, r.CheckInDate)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("check_in_date", "must be formatted as YYYY-MM-DD")
	}
	checkOut, err = time.Parse(DateLayout, r.CheckOutDate)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("check_out_date", "must be formatted as YYYY-MM-DD")
	}
	return checkIn, checkOut, nil
}

// CreateBookingResponse represents response after initiating a booking
type CreateBookingResponse struct {
	Booking         *BookingResponse `json:"booking"`
	ClientSecret    string           `json:"client_secret,omitempty"`
	PaymentIntentID string           `json:"payment_intent_id,omitempty"`
}

// ConfirmBookingRequest represents request to confirm a booking
type ConfirmBookingRequest struct {
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

// CancelBookingRequest represents request to cancel a booking
type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty" binding:"max=255"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID                   string          `json:"id"`
	GuestID              string          `json:"guest_id"`
	AccommodationID      string          `json:"accommodation_id"`
	AccommodationName    string          `json:"accommodation_name,omitempty"`
	AccommodationAddress string          `json:"accommodation_address,omitempty"`
	AccommodationImage   string          `json:"accommodation_image,omitempty"`
	RoomTypeID           string          `json:"room_type_id"`
	RoomTypeName         string          `json:"room_type_name,omitempty"`
	CheckInDate          string          `json:"check_in_date"`
	CheckOutDate         string          `json:"check_out_date"`
	NumRooms             int             `json:"num_rooms"`
	NumGuests            int             `json:"num_guests"`
	TotalPrice           decimal.Decimal `json:"total_price"`
	Currency             string          `json:"currency"`
	Status               string          `json:"status"`
	StatusReason         string          `json:"status_reason,omitempty"`
	PaymentIntentID      string          `json:"payment_intent_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// PaginatedResponse represents a page of bookings
type PaginatedResponse struct {
	Data       []*BookingResponse `json:"data"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	Total      int                `json:"total"`
	TotalPages int                `json:"total_pages"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		ID:              b.ID,
		GuestID:         b.GuestID,
		AccommodationID: b.AccommodationID,
		RoomTypeID:      b.RoomTypeID,
		CheckInDate:     b.CheckInDate.Format(DateLayout),
		CheckOutDate:    b.CheckOutDate.Format(DateLayout),
		NumRooms:        b.NumRooms,
		NumGuests:       b.NumGuests,
		TotalPrice:      b.TotalPrice,
		Currency:        b.Currency,
		Status:          string(b.Status),
		StatusReason:    b.StatusReason,
		PaymentIntentID: b.PaymentRef,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// FromView converts a BookingView, including its catalog fields
func FromView(v *domain.BookingView) *BookingResponse {
	resp := FromDomain(v.Booking)
	resp.AccommodationName = v.AccommodationName
	resp.AccommodationAddress = v.AccommodationAddress
	resp.AccommodationImage = v.AccommodationImage
	resp.RoomTypeName = v.RoomTypeName
	return resp
}

// NewPaginatedResponse builds a page of booking views
func NewPaginatedResponse(views []*domain.BookingView, page, pageSize, total int) *PaginatedResponse {
	data := make([]*BookingResponse, 0, len(views))
	for _, v := range views {
		data = append(data, FromView(v))
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return &PaginatedResponse{
		Data:       data,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
