package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"devicemirror/adb"
	"devicemirror/models"
	"devicemirror/service"
	"devicemirror/store"
)

// SettingsStore is the settings half of *store.Store.
type SettingsStore interface {
	MirroringSettings(ctx context.Context) (models.MirroringSettings, error)
	UpdateMirroringSettings(ctx context.Context, partial map[string]any) (models.MirroringSettings, error)
	RefreshPolicy(ctx context.Context) (models.RefreshPolicy, error)
	UpdateRefreshPolicy(ctx context.Context, partial map[string]any) (models.RefreshPolicy, error)
}

// PolicyReloader is told when the refresh policy changed.
type PolicyReloader interface {
	Reload()
}

// Health reports liveness
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "devicemirror is running",
	}))
}

// respondError maps the error taxonomy to HTTP status codes. Tool errors
// carry adb's raw output so clients can diagnose them.
func respondError(c *gin.Context, err error) {
	var (
		vErr     *store.ValidationError
		nfErr    *store.NotFoundError
		sErr     *store.StorageError
		connErr  *adb.ConnectError
		pairErr  *adb.PairError
		cmdErr   *adb.CommandError
		spawnErr *service.SpawnError
	)

	switch {
	case errors.As(err, &vErr), errors.Is(err, adb.ErrNotNetworkDevice):
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
	case errors.As(err, &nfErr):
		c.JSON(http.StatusNotFound, models.ErrorResponse(err.Error()))
	case errors.As(err, &connErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponseWithData(err.Error(), gin.H{
			"output":        connErr.Output,
			"needs_pairing": connErr.NeedsPairing(),
		}))
	case errors.As(err, &pairErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponseWithData(err.Error(), gin.H{"output": pairErr.Output}))
	case errors.As(err, &cmdErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponseWithData(err.Error(), gin.H{"output": cmdErr.Output}))
	case errors.As(err, &spawnErr):
		c.JSON(http.StatusInternalServerError, models.ErrorResponseWithData(err.Error(), gin.H{"exit_code": spawnErr.ExitCode}))
	case errors.As(err, &sErr):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse(fmt.Sprintf("invalid request: %v", err)))
}

// GetDevices returns the last reconciled device list; ?refresh=true
// refreshes first.
func GetDevices(c *gin.Context, dm *service.DeviceManager) {
	if c.Query("refresh") == "true" {
		c.JSON(http.StatusOK, models.SuccessResponse(dm.Refresh(c.Request.Context())))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(dm.GetAllDevices()))
}

// RefreshDevices forces a refresh cycle
func RefreshDevices(c *gin.Context, dm *service.DeviceManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(dm.Refresh(c.Request.Context())))
}

func GetDevice(c *gin.Context, dm *service.DeviceManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(dm.GetDevice(c.Param("id"))))
}

type renameRequest struct {
	Name string `json:"name"`
}

func RenameDevice(c *gin.Context, dm *service.DeviceManager) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := dm.Rename(c.Request.Context(), id, req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(dm.GetDevice(id)))
}

// GetDisplayNames maps every known identity to its display name.
func GetDisplayNames(c *gin.Context, dm *service.DeviceManager) {
	names, err := dm.DisplayNames(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(names))
}

func GetDisplayName(c *gin.Context, dm *service.DeviceManager) {
	id := c.Param("id")
	name, err := dm.DisplayName(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"id": id, "display_name": name}))
}

func GetDeviceSettings(c *gin.Context, dm *service.DeviceManager) {
	settings, err := dm.DeviceSettings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

// UpdateDeviceSettings merges the body into the device's settings; a null
// value removes that key.
func UpdateDeviceSettings(c *gin.Context, dm *service.DeviceManager) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		badRequest(c, err)
		return
	}
	settings, err := dm.UpdateDeviceSettings(c.Request.Context(), c.Param("id"), partial)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

type encoderRequest struct {
	Encoder string `json:"encoder"`
}

func SetDeviceEncoder(c *gin.Context, dm *service.DeviceManager) {
	var req encoderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if err := dm.SetEncoder(c.Request.Context(), id, req.Encoder); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(dm.GetDevice(id)))
}

// addressRequest accepts the port as a number or a string.
type addressRequest struct {
	IP   string `json:"ip"`
	Port any    `json:"port"`
	Code string `json:"code"`
}

func (r addressRequest) port() string {
	switch p := r.Port.(type) {
	case string:
		return p
	case float64:
		return strconv.Itoa(int(p))
	default:
		return ""
	}
}

func ConnectDevice(c *gin.Context, dm *service.DeviceManager) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	output, err := dm.Connect(c.Request.Context(), req.IP, req.port())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"output": output}))
}

func PairDevice(c *gin.Context, dm *service.DeviceManager) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	output, err := dm.Pair(c.Request.Context(), req.IP, req.port(), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"output": output}))
}

func DisconnectDevice(c *gin.Context, dm *service.DeviceManager) {
	output, err := dm.Disconnect(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"output": output}))
}

type commandRequest struct {
	Command string `json:"command"`
}

func ExecuteCommand(c *gin.Context, dm *service.DeviceManager) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	output, err := dm.ExecuteShellCommand(c.Request.Context(), c.Param("id"), req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"output": output}))
}

// BroadcastCommand runs a command on several devices. Per-device failures
// are part of a successful response.
func BroadcastCommand(c *gin.Context, b *service.CommandBroadcaster) {
	var req models.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := b.Broadcast(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(results))
}

func ListSessions(c *gin.Context, sm *service.SessionManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(sm.ListSessions()))
}

func GetSession(c *gin.Context, sm *service.SessionManager) {
	info, ok := sm.GetSessionInfo(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("no session for "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func StartSession(c *gin.Context, sm *service.SessionManager) {
	info, err := sm.StartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func StopSession(c *gin.Context, sm *service.SessionManager) {
	stopped := sm.StopSession(c.Param("id"))
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"stopped": stopped}))
}

func StopAllSessions(c *gin.Context, sm *service.SessionManager) {
	c.JSON(http.StatusOK, models.SuccessResponse(sm.StopAllSessions()))
}

func GetMirroringSettings(c *gin.Context, s SettingsStore) {
	settings, err := s.MirroringSettings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

func UpdateMirroringSettings(c *gin.Context, s SettingsStore) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		badRequest(c, err)
		return
	}
	settings, err := s.UpdateMirroringSettings(c.Request.Context(), partial)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(settings))
}

func GetRefreshPolicy(c *gin.Context, s SettingsStore) {
	policy, err := s.RefreshPolicy(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(policy))
}

// UpdateRefreshPolicy stores the policy and tells the scheduler to pick
// it up.
func UpdateRefreshPolicy(c *gin.Context, s SettingsStore, reloader PolicyReloader) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		badRequest(c, err)
		return
	}
	policy, err := s.UpdateRefreshPolicy(c.Request.Context(), partial)
	if err != nil {
		respondError(c, err)
		return
	}
	if reloader != nil {
		reloader.Reload()
	}
	c.JSON(http.StatusOK, models.SuccessResponse(policy))
}
