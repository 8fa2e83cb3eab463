package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airchains-network/tx-simulator/internal/engine"
	"github.com/airchains-network/tx-simulator/internal/types"
)

func newTestServer() *Server {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	return NewServer(nil, nil, log)
}

func TestHealthReportsBackendAvailability(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["accountModel"])
	assert.Equal(t, false, body["runtimeModule"])
}

func TestSimulateUnconfiguredAccountModelBackendIs503(t *testing.T) {
	s := newTestServer()
	payload := []byte(`{"kind":"account-model","sender":"0xsender","to":"0xto"}`)
	req := httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSimulateUnconfiguredRuntimeModuleBackendIs503(t *testing.T) {
	s := newTestServer()
	payload := []byte(`{"kind":"runtime-module","sender":"0xsender","rawHex":"0x00"}`)
	req := httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSimulateUnknownKindIsBadRequest(t *testing.T) {
	s := newTestServer()
	payload := []byte(`{"kind":"bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulateMalformedJSONIsBadRequest(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/simulate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteSimulateResultSuccessIsOK(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	s.writeSimulateResult(c, "req-1", types.SimulationResponse{Success: true}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteSimulateResultDecodedErrorIsUnprocessableEntity(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	resp := types.SimulationResponse{
		Success: false,
		ErrorA:  &types.DecodedErrorA{Kind: types.ErrorKindARevert, Message: "reverted"},
	}
	s.writeSimulateResult(c, "req-2", resp, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestWriteSimulateResultFatalRestoreErrorIsInternalServerError(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := &engine.FatalRestoreError{Backend: "account-model", Cause: errors.New("revert and reset both failed")}
	s.writeSimulateResult(c, "req-3", types.SimulationResponse{}, err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDecodeHexDataAcceptsPrefixedAndBareHex(t *testing.T) {
	b, err := decodeHexData("0xdead")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, b)

	b, err = decodeHexData("")
	require.NoError(t, err)
	assert.Equal(t, []byte{}, b)
}
