package tests

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hien22444/WDP-LM-sub000/internal/auth"
	"github.com/hien22444/WDP-LM-sub000/internal/booking"
	bookingHttp "github.com/hien22444/WDP-LM-sub000/internal/booking/http"
	paymentHttp "github.com/hien22444/WDP-LM-sub000/internal/payment/http"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/response"
)

const slotPrice = int64(100_000)

// payForSlot opens an order for the slot and delivers a signed success webhook.
func payForSlot(t *testing.T, studentToken, slotID string) paymentHttp.OrderResponse {
	t.Helper()
	w := executeRequest("POST", "/v1/payments/orders", paymentHttp.CreateOrderRequest{SlotID: slotID}, studentToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[paymentHttp.OrderResponse](t, w)

	w = executeWebhook([]byte(fmt.Sprintf(`{"orderCode": %d, "statusCode": "PAID"}`, order.OrderCode)), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return order
}

func bookingByOrder(t *testing.T, token string, orderCode int64) bookingHttp.BookingResponse {
	t.Helper()
	w := executeRequest("GET", "/v1/bookings?page_size=100", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[response.PageResponse[bookingHttp.BookingResponse]](t, w)
	for _, b := range page.Items {
		if b.OrderCode != nil && *b.OrderCode == orderCode {
			return b
		}
	}
	t.Fatalf("no booking for order %d", orderCode)
	return bookingHttp.BookingResponse{}
}

func providerBalance(t *testing.T, providerID string) int64 {
	t.Helper()
	var available int64
	err := testPool.QueryRow(context.Background(),
		"SELECT COALESCE((SELECT available FROM public.provider_balances WHERE provider_id = $1), 0)", providerID).Scan(&available)
	require.NoError(t, err)
	return available
}

func TestBookingLifecycle(t *testing.T) {
	clearTables()

	// ==== Setup Users & Tokens ====
	tutorID := createTestProvider(t, "online")
	studentID := uuid.NewString()
	tutorToken := generateToken(tutorID, auth.RoleUser)
	studentToken := generateToken(studentID, auth.RoleUser)
	strangerToken := generateToken(uuid.NewString(), auth.RoleUser)

	s := createTestSlot(t, tutorToken, 48*time.Hour, slotPrice)
	order := payForSlot(t, studentToken, s.ID)
	b := bookingByOrder(t, studentToken, order.OrderCode)
	path := "/v1/bookings/" + b.ID

	t.Run("Webhook created a paid pending booking", func(t *testing.T) {
		assert.Equal(t, "pending", b.Status)
		assert.Equal(t, "paid", b.PaymentStatus)
		require.NotNil(t, b.SlotID)
		assert.Equal(t, s.ID, *b.SlotID)
		assert.Equal(t, tutorID, b.ProviderID)
		assert.Equal(t, slotPrice, b.Price)
	})

	t.Run("Strangers cannot see it", func(t *testing.T) {
		w := executeRequest("GET", path, nil, strangerToken)
		assert.Equal(t, booking.ErrPermissionDenied.Code, w.Code)
	})

	t.Run("Only the provider decides", func(t *testing.T) {
		w := executeRequest("POST", path+"/decision", bookingHttp.DecisionRequest{Decision: "accept"}, studentToken)
		assert.Equal(t, booking.ErrPermissionDenied.Code, w.Code, w.Body.String())
	})

	t.Run("Accept holds escrow", func(t *testing.T) {
		w := executeRequest("POST", path+"/decision", bookingHttp.DecisionRequest{Decision: "accept"}, tutorToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		accepted := decode[bookingHttp.BookingResponse](t, w)
		assert.Equal(t, "accepted", accepted.Status)
		assert.True(t, strings.HasPrefix(accepted.ContractNumber, "TB-"), accepted.ContractNumber)
		assert.Equal(t, slotPrice, accepted.EscrowAmount)

		w = executeRequest("POST", path+"/decision", bookingHttp.DecisionRequest{Decision: "reject"}, tutorToken)
		assert.Equal(t, booking.ErrInvalidTransition.Code, w.Code, w.Body.String())
	})

	t.Run("Both parties sign", func(t *testing.T) {
		w := executeRequest("POST", path+"/sign", bookingHttp.SignRequest{Signature: "student"}, studentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.False(t, decode[bookingHttp.BookingResponse](t, w).ContractSigned)

		w = executeRequest("POST", path+"/sign", bookingHttp.SignRequest{Signature: "tutor"}, tutorToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decode[bookingHttp.BookingResponse](t, w).ContractSigned)
	})

	t.Run("Participants join the session", func(t *testing.T) {
		w := executeRequest("POST", path+"/session/join", nil, studentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		sess := decode[bookingHttp.SessionResponse](t, w)
		assert.Equal(t, b.ID, sess.BookingID)
		assert.ElementsMatch(t, []string{studentID, tutorID}, sess.Participants)
		assert.Contains(t, sess.Present, studentID)

		w = executeRequest("POST", path+"/session/join", nil, strangerToken)
		assert.Equal(t, booking.ErrPermissionDenied.Code, w.Code)
	})

	t.Run("Completion releases escrow once", func(t *testing.T) {
		w := executeRequest("POST", path+"/complete", nil, studentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		completed := decode[bookingHttp.BookingResponse](t, w)
		assert.Equal(t, "completed", completed.Status)
		assert.Zero(t, completed.EscrowAmount)
		assert.Equal(t, int64(85_000), providerBalance(t, tutorID))

		w = executeRequest("POST", path+"/complete", nil, tutorToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, int64(85_000), providerBalance(t, tutorID))
	})

	t.Run("Escrow journal", func(t *testing.T) {
		w := executeRequest("GET", path+"/escrow", nil, tutorToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		statement := decode[bookingHttp.EscrowResponse](t, w)
		assert.Equal(t, int64(100_000), statement.Released)
		assert.Zero(t, statement.Held)
		require.Len(t, statement.Entries, 2)
		assert.Equal(t, "hold", statement.Entries[0].Kind)
		assert.Equal(t, "release", statement.Entries[1].Kind)

		w = executeRequest("GET", path+"/escrow", nil, strangerToken)
		assert.Equal(t, booking.ErrPermissionDenied.Code, w.Code)
	})
}

func TestBookingCancellationAndDispute(t *testing.T) {
	clearTables()

	tutorID := createTestProvider(t, "online")
	tutorToken := generateToken(tutorID, auth.RoleUser)
	studentToken := generateToken(uuid.NewString(), auth.RoleUser)
	adminToken := generateToken(uuid.NewString(), auth.RoleAdmin)

	t.Run("Requester cancels a paid pending booking", func(t *testing.T) {
		s := createTestSlot(t, tutorToken, 48*time.Hour, slotPrice)
		b := bookingByOrder(t, studentToken, payForSlot(t, studentToken, s.ID).OrderCode)

		w := executeRequest("POST", "/v1/bookings/"+b.ID+"/cancel", bookingHttp.ReasonRequest{Reason: "schedule changed"}, studentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		cancelled := decode[bookingHttp.BookingResponse](t, w)
		assert.Equal(t, "cancelled", cancelled.Status)
		assert.Equal(t, "schedule changed", cancelled.CancelReason)
		assert.Zero(t, cancelled.EscrowAmount)
	})

	t.Run("Dispute is resolved by an admin", func(t *testing.T) {
		s := createTestSlot(t, tutorToken, 96*time.Hour, slotPrice)
		b := bookingByOrder(t, studentToken, payForSlot(t, studentToken, s.ID).OrderCode)
		path := "/v1/bookings/" + b.ID

		w := executeRequest("POST", path+"/decision", bookingHttp.DecisionRequest{Decision: "accept"}, tutorToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = executeRequest("POST", path+"/dispute", bookingHttp.DisputeRequest{Reason: "tutor never showed"}, studentToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "disputed", decode[bookingHttp.BookingResponse](t, w).Status)

		w = executeRequest("POST", path+"/complete", nil, tutorToken)
		assert.Equal(t, booking.ErrInvalidTransition.Code, w.Code, w.Body.String())

		w = executeRequest("POST", path+"/resolve", bookingHttp.ResolveRequest{Outcome: "cancelled"}, studentToken)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = executeRequest("POST", path+"/resolve", bookingHttp.ResolveRequest{Outcome: "cancelled"}, adminToken)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resolved := decode[bookingHttp.BookingResponse](t, w)
		assert.Equal(t, "cancelled", resolved.Status)
		assert.Zero(t, resolved.EscrowAmount)
		assert.Zero(t, providerBalance(t, tutorID))
	})

	t.Run("Unpaid booking from a slot", func(t *testing.T) {
		s := createTestSlot(t, tutorToken, 120*time.Hour, slotPrice)
		w := executeRequest("POST", "/v1/bookings", bookingHttp.CreateBookingRequest{SlotID: s.ID}, studentToken)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		b := decode[bookingHttp.BookingResponse](t, w)
		assert.Equal(t, "none", b.PaymentStatus)

		// The slot is consumed
		w = executeRequest("POST", "/v1/bookings", bookingHttp.CreateBookingRequest{SlotID: s.ID}, studentToken)
		assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

		// Accepting requires payment
		w = executeRequest("POST", "/v1/bookings/"+b.ID+"/decision", bookingHttp.DecisionRequest{Decision: "accept"}, tutorToken)
		assert.Equal(t, booking.ErrPaymentRequired.Code, w.Code, w.Body.String())
	})
}
