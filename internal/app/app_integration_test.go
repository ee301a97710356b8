//go:build integration

package app_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/payments-admin/internal/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userSeq atomic.Int64

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), userSeq.Add(1))
}

// adminClient registers a fresh admin and returns a client logged in as it.
func adminClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	name := uniqueName("admin")
	client.Register(t, name, "secret", "admin")
	client.LoginAs(t, name, "secret")
	return client
}

func createPayment(t *testing.T, client *testutil.Client, ownerID int64, amount string) map[string]any {
	t.Helper()
	resp, err := client.POST("/api/pay", map[string]any{
		"amount":  amount,
		"receipt": "r.pdf",
		"userId":  ownerID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payment map[string]any
	testutil.DecodeJSON(t, resp, &payment)
	return payment
}

func TestHealthAndVersion(t *testing.T) {
	client := newTestClient(t)

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		resp, err := client.GET(path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestSingleSuperadmin(t *testing.T) {
	client := newTestClient(t).WithoutValidation()

	first, err := client.POST("/api/user/register", map[string]string{
		"username": uniqueName("root"), "password": "x", "role": "superadmin",
	})
	require.NoError(t, err)
	body := testutil.ReadBody(t, first)

	// Another test run may already own the superadmin slot; either way the
	// next attempt must be refused.
	if first.StatusCode != http.StatusCreated {
		assert.JSONEq(t, `{"error":"Ya existe un superadmin"}`, body)
	}

	resp, err := client.POST("/api/user/register", map[string]string{
		"username": uniqueName("root"), "password": "x", "role": "superadmin",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Ya existe un superadmin"}`, testutil.ReadBody(t, resp))

	var count int
	require.NoError(t, testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM users WHERE role = 'superadmin'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLogin_WrongPassword(t *testing.T) {
	client := newTestClient(t)
	name := uniqueName("user")
	client.Register(t, name, "right", "user")

	resp, err := client.POST("/api/user/login", map[string]string{"username": name, "password": "wrong"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Credenciales incorrectas"}`, testutil.ReadBody(t, resp))
}

func TestUserRoutes_RoleGate(t *testing.T) {
	client := newTestClient(t)
	name := uniqueName("plain")
	client.Register(t, name, "pw", "user")
	client.LoginAs(t, name, "pw")

	resp, err := client.GET("/api/user")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"No autorizado"}`, testutil.ReadBody(t, resp))

	resp, err = client.WithToken("").GET("/api/user")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Token inválido"}`, testutil.ReadBody(t, resp))
}

func TestUserCRUD_PasswordNeverReturned(t *testing.T) {
	admin := adminClient(t)
	targetID := newTestClient(t).Register(t, uniqueName("target"), "pw", "user")

	resp, err := admin.GET(fmt.Sprintf("/api/user/%d", targetID))
	require.NoError(t, err)
	body := testutil.ReadBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "$2a$")

	resp, err = admin.PUT(fmt.Sprintf("/api/user/%d", targetID), map[string]string{"role": "admin"})
	require.NoError(t, err)
	var updated map[string]any
	testutil.DecodeJSON(t, resp, &updated)
	assert.Equal(t, "admin", updated["role"])

	resp, err = admin.DELETE(fmt.Sprintf("/api/user/%d", targetID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Usuario eliminado"}`, testutil.ReadBody(t, resp))
}

func TestPayment_AmountRoundTripsExactly(t *testing.T) {
	admin := adminClient(t)
	ownerID := newTestClient(t).Register(t, uniqueName("owner"), "pw", "user")

	payment := createPayment(t, admin, ownerID, "100.00")
	id := int64(payment["id"].(float64))

	resp, err := admin.GET(fmt.Sprintf("/api/pay/%d", id))
	require.NoError(t, err)
	assert.Contains(t, testutil.ReadBody(t, resp), `"amount":100.00`)

	var stored string
	require.NoError(t, testDB.QueryRow(context.Background(),
		`SELECT amount::text FROM payments WHERE id = $1`, id).Scan(&stored))
	assert.Equal(t, "100.00", stored)
}

func TestPayment_UnknownOwner(t *testing.T) {
	admin := adminClient(t).WithoutValidation()

	resp, err := admin.POST("/api/pay", map[string]any{"amount": 1, "receipt": "r.pdf", "userId": 987654321})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Error al crear el pago"}`, testutil.ReadBody(t, resp))
}

func TestPayment_UploadAndDownloadReceipt(t *testing.T) {
	admin := adminClient(t)
	ownerID := newTestClient(t).Register(t, uniqueName("owner"), "pw", "user")

	resp, err := admin.Multipart(http.MethodPost, "/api/pay",
		map[string]string{"amount": "12.34", "userId": fmt.Sprint(ownerID)},
		testutil.File{Field: "receipt", Filename: "recibo.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
	)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var payment map[string]any
	testutil.DecodeJSON(t, resp, &payment)
	id := int64(payment["id"].(float64))

	resp, err = admin.GET(fmt.Sprintf("/api/pay/%d/receipt", id))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "%PDF-1.7", testutil.ReadBody(t, resp))

	resp, err = admin.WithoutValidation().Multipart(http.MethodPost, "/api/pay",
		map[string]string{"amount": "1", "userId": fmt.Sprint(ownerID)},
		testutil.File{Field: "receipt", Filename: "foto.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}},
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Error: Solo archivos PDF"}`, testutil.ReadBody(t, resp))
}

func TestPayment_DeleteMissing(t *testing.T) {
	admin := adminClient(t)

	resp, err := admin.DELETE("/api/pay/999999999")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Pago no encontrado"}`, testutil.ReadBody(t, resp))
}

func TestDeleteUser_CascadesPayments(t *testing.T) {
	admin := adminClient(t)
	ownerID := newTestClient(t).Register(t, uniqueName("owner"), "pw", "user")
	payment := createPayment(t, admin, ownerID, "5.00")

	resp, err := admin.DELETE(fmt.Sprintf("/api/user/%d", ownerID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = admin.GET(fmt.Sprintf("/api/pay/%d", int64(payment["id"].(float64))))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRealtime_PaymentChangesAreBroadcast(t *testing.T) {
	admin := adminClient(t)
	ownerID := newTestClient(t).Register(t, uniqueName("owner"), "pw", "user")

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/api/ws?token=" + admin.Token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return testApp.Hub().Clients() > 0 }, 2*time.Second, 10*time.Millisecond)

	createPayment(t, admin, ownerID, "3.00")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update-payments", msg.Event)
	assert.Equal(t, float64(ownerID), msg.Data["userId"])
}

func TestRealtime_UserDeleteIsBroadcast(t *testing.T) {
	admin := adminClient(t)
	ownerID := newTestClient(t).Register(t, uniqueName("owner"), "pw", "user")
	createPayment(t, admin, ownerID, "8.00")

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/api/ws?token=" + admin.Token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return testApp.Hub().Clients() > 0 }, 2*time.Second, 10*time.Millisecond)

	delResp, err := admin.DELETE(fmt.Sprintf("/api/user/%d", ownerID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	_ = delResp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update-payments", msg.Event)
	assert.Equal(t, float64(ownerID), msg.Data["userId"])
}
