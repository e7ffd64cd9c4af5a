package api

import (
	"net/http"
	"strconv"

	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) availability(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	start, end := c.Query("start_date"), c.Query("end_date")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}

	avail, err := h.deps.Bookings.Availability(c.Request.Context(), productID, start, end)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, avail)
}

// createBooking handles booking requests
func (h *Handler) createBooking(c *gin.Context) {
	h.withIdempotency(c, func(c *gin.Context) {
		var req service.CreateBookingRequest
		if !bindJSON(c, &req) {
			return
		}

		booking, err := h.deps.Bookings.CreateBooking(c.Request.Context(), callerFrom(c), &req)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, booking)
	})
}

func (h *Handler) listBookings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.deps.Bookings.ListBookings(c.Request.Context(), callerFrom(c), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handler) getBookingByReference(c *gin.Context) {
	booking, err := h.deps.Bookings.GetBookingByReference(c.Request.Context(), callerFrom(c), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) decide(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.DecideRequest
	if !bindJSON(c, &req) {
		return
	}

	booking, err := h.deps.Bookings.Decide(c.Request.Context(), callerFrom(c), bookingID, req.Decision)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) cancel(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	booking, err := h.deps.Bookings.Cancel(c.Request.Context(), callerFrom(c), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
