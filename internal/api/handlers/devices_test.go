package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/resourcemgr"
)

func deviceHandlerCols() []string {
	return []string{"device_id", "unit_id", "unit_code", "network_id", "network_code",
		"network_addr", "profile", "name", "info", "created_at", "modified_at"}
}

func TestDevicesHandler_Get_NotFound(t *testing.T) {
	mgr, mock := newTestManager(t)
	admin := "admin1"
	r := newTestRouter(resourcemgr.Principal{UserID: &admin, Roles: []models.Role{models.RoleAdmin}})
	r.GET("/device/:id", NewDevices(mgr).Get)

	mock.ExpectQuery("FROM devices d").WillReturnRows(sqlmock.NewRows(deviceHandlerCols()))

	req := httptest.NewRequest(http.MethodGet, "/device/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevicesHandler_Get_Found(t *testing.T) {
	mgr, mock := newTestManager(t)
	admin := "admin1"
	r := newTestRouter(resourcemgr.Principal{UserID: &admin, Roles: []models.Role{models.RoleAdmin}})
	r.GET("/device/:id", NewDevices(mgr).Get)

	now := time.Now()
	rows := sqlmock.NewRows(deviceHandlerCols()).
		AddRow("d1", "u1", "unitA", "n1", "net1", "AA:BB", "profile1", "Device 1", []byte(`{}`), now, now)
	mock.ExpectQuery("FROM devices d").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/device/d1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "d1", body["deviceId"])
}

func TestDevicesHandler_Count(t *testing.T) {
	mgr, mock := newTestManager(t)
	admin := "admin1"
	r := newTestRouter(resourcemgr.Principal{UserID: &admin, Roles: []models.Role{models.RoleAdmin}})
	r.GET("/device/count", NewDevices(mgr).Count)

	mock.ExpectQuery(`SELECT count\(\*\) FROM devices WHERE unit_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	req := httptest.NewRequest(http.MethodGet, "/device/count?unit_id=u1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 5, body["count"])
}

func TestDevicesHandler_Count_RequiresScopeForNonPrivileged(t *testing.T) {
	mgr, _ := newTestManager(t)
	dev := "dev1"
	r := newTestRouter(resourcemgr.Principal{UserID: &dev, Roles: []models.Role{models.RoleDev}})
	r.GET("/device/count", NewDevices(mgr).Count)

	req := httptest.NewRequest(http.MethodGet, "/device/count", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevicesHandler_AddBulk_RejectsMissingBody(t *testing.T) {
	mgr, _ := newTestManager(t)
	admin := "admin1"
	r := newTestRouter(resourcemgr.Principal{UserID: &admin, Roles: []models.Role{models.RoleAdmin}})
	r.POST("/device/bulk", NewDevices(mgr).AddBulk)

	req := httptest.NewRequest(http.MethodPost, "/device/bulk", nil)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
