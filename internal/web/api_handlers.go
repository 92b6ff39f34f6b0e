package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caldsync/caldsync/internal/db"
	"github.com/caldsync/caldsync/internal/engine"
)

// sanitizeError returns a user-safe error message without exposing internal
// details. The full error is logged server-side only.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// categorizeConnectionError returns a user-friendly message based on common
// error patterns.
func categorizeConnectionError(err error) string {
	if err == nil {
		return "Connection failed"
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup"):
		return "Server not found. Please check the URL."
	case strings.Contains(errStr, "connection refused"):
		return "Connection refused. Please verify the server is running."
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "Connection timed out. Please try again."
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "unauthorized"):
		return "Authentication failed. Please check your credentials."
	case strings.Contains(errStr, "403") || strings.Contains(errStr, "forbidden"):
		return "Access denied. Please check your permissions."
	case strings.Contains(errStr, "404") || strings.Contains(errStr, "not found"):
		return "Calendar collection not found. Please check the URL."
	case strings.Contains(errStr, "certificate") || strings.Contains(errStr, "tls"):
		return "SSL/TLS error. Please verify the server certificate."
	case strings.Contains(errStr, "private ip"):
		return "Endpoint resolves to a private address."
	default:
		return "Connection failed. Please check your settings."
	}
}

// APIConnection represents a connection in JSON format for the API. The
// password never appears here.
type APIConnection struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	Endpoint     string  `json:"endpoint"`
	Username     string  `json:"username"`
	SyncInterval int     `json:"sync_interval"`
	AutoSync     bool    `json:"auto_sync"`
	Status       string  `json:"status"`
	LastSyncAt   *string `json:"last_sync_at"`
	LastError    string  `json:"last_error,omitempty"`
	HasJob       bool    `json:"has_job"`
	Syncing      bool    `json:"syncing"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// connectionToAPI converts a db.Connection to APIConnection.
func connectionToAPI(conn *db.Connection) *APIConnection {
	api := &APIConnection{
		ID:           conn.ID,
		AccountID:    conn.AccountID,
		Name:         conn.Name,
		Endpoint:     conn.Endpoint,
		Username:     conn.Username,
		SyncInterval: conn.SyncInterval,
		AutoSync:     conn.AutoSync,
		Status:       string(conn.Status),
		LastError:    conn.LastError,
		CreatedAt:    conn.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    conn.UpdatedAt.Format(time.RFC3339),
	}
	if conn.LastSyncAt != nil {
		ts := conn.LastSyncAt.Format(time.RFC3339)
		api.LastSyncAt = &ts
	}
	return api
}

func (h *Handlers) connectionView(conn *db.Connection) *APIConnection {
	api := connectionToAPI(conn)
	api.HasJob = h.manager.HasJob(conn.AccountID)
	api.Syncing = h.manager.IsRunning(conn.AccountID)
	return api
}

// clampSyncInterval bounds a requested interval (seconds) to the configured
// range, falling back to the default for zero.
func (h *Handlers) clampSyncInterval(seconds int) int {
	switch {
	case seconds <= 0:
		return h.cfg.Sync.DefaultInterval
	case seconds < h.cfg.Sync.MinInterval:
		return h.cfg.Sync.MinInterval
	case seconds > h.cfg.Sync.MaxInterval:
		return h.cfg.Sync.MaxInterval
	}
	return seconds
}

// syncJobState keeps the daemon's base session aligned with the
// connection's auto-sync setting.
func (h *Handlers) syncJobState(conn *db.Connection) {
	hasJob := h.manager.HasJob(conn.AccountID)
	switch {
	case conn.AutoSync && !hasJob:
		h.manager.AttachSession(conn)
	case !conn.AutoSync && hasJob:
		h.manager.DetachSession(conn.AccountID)
	case hasJob:
		h.manager.UpdateJob(conn)
	}
}

// APIListConnections returns all connections.
func (h *Handlers) APIListConnections(c *gin.Context) {
	conns, err := h.db.GetConnections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connections")})
		return
	}

	apiConns := make([]*APIConnection, len(conns))
	for i, conn := range conns {
		apiConns[i] = h.connectionView(conn)
	}

	c.JSON(http.StatusOK, apiConns)
}

// APIGetConnection returns a single connection.
func (h *Handlers) APIGetConnection(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	c.JSON(http.StatusOK, h.connectionView(conn))
}

// APICreateConnectionRequest represents the request body for creating a
// connection.
type APICreateConnectionRequest struct {
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	Endpoint     string `json:"endpoint"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SyncInterval int    `json:"sync_interval"`
	AutoSync     bool   `json:"auto_sync"`
}

// APICreateConnection creates a new connection after probing the endpoint.
func (h *Handlers) APICreateConnection(c *gin.Context) {
	var req APICreateConnectionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.AccountID == "" || req.Name == "" || req.Endpoint == "" || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	ctx := c.Request.Context()
	if err := h.validator.ValidateCalDAVEndpoint(ctx, req.Endpoint, h.cfg.IsProduction()); err != nil {
		log.Printf("Endpoint validation failed for %s: %v", req.Endpoint, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Endpoint validation failed: " + categorizeConnectionError(err)})
		return
	}

	encPassword, err := h.encryptor.Encrypt(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to encrypt credentials")})
		return
	}

	conn := &db.Connection{
		AccountID:    req.AccountID,
		Name:         req.Name,
		Endpoint:     req.Endpoint,
		Username:     req.Username,
		Password:     encPassword,
		SyncInterval: h.clampSyncInterval(req.SyncInterval),
		AutoSync:     req.AutoSync,
	}

	if err := h.db.CreateConnection(conn); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "A connection for this account already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create connection")})
		return
	}

	h.syncJobState(conn)

	c.JSON(http.StatusCreated, h.connectionView(conn))
}

// APIUpdateConnectionRequest represents the request body for updating a
// connection. An empty password keeps the stored one.
type APIUpdateConnectionRequest struct {
	Name         string `json:"name"`
	Endpoint     string `json:"endpoint"`
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	SyncInterval int    `json:"sync_interval"`
	AutoSync     bool   `json:"auto_sync"`
}

// APIUpdateConnection updates an existing connection.
func (h *Handlers) APIUpdateConnection(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	var req APIUpdateConnectionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.Endpoint != "" && req.Endpoint != conn.Endpoint {
		if err := h.validator.ValidateURL(req.Endpoint, h.cfg.IsProduction()); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Endpoint validation failed: " + categorizeConnectionError(err)})
			return
		}
		conn.Endpoint = req.Endpoint
	}
	if req.Username != "" {
		conn.Username = req.Username
	}
	if req.SyncInterval > 0 {
		conn.SyncInterval = h.clampSyncInterval(req.SyncInterval)
	}
	conn.AutoSync = req.AutoSync

	if req.Password != "" {
		encPassword, err := h.encryptor.Encrypt(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to encrypt credentials")})
			return
		}
		conn.Password = encPassword
	}

	if err := h.db.UpdateConnection(conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to update connection")})
		return
	}

	h.syncJobState(conn)

	c.JSON(http.StatusOK, h.connectionView(conn))
}

// APIDeleteConnection deletes a connection and its job.
func (h *Handlers) APIDeleteConnection(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	if h.manager.HasJob(conn.AccountID) {
		h.manager.DetachSession(conn.AccountID)
	}

	if err := h.db.DeleteConnection(conn.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete connection")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Connection deleted"})
}

// APITriggerSyncRequest represents the optional request body for a manual
// sync.
type APITriggerSyncRequest struct {
	CalendarID           string `json:"calendar_id,omitempty"`
	PreserveLocalDeletes bool   `json:"preserve_local_deletes,omitempty"`
}

// APITriggerSync runs a forced cycle for a connection and returns its
// result. A cycle already in flight answers immediately via the queue.
func (h *Handlers) APITriggerSync(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	var req APITriggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	result := h.manager.TriggerSync(conn.AccountID, engine.CycleOptions{
		ForceRefresh:         true,
		CalendarID:           req.CalendarID,
		PreserveLocalDeletes: req.PreserveLocalDeletes,
	})

	c.JSON(http.StatusOK, result)
}

// logPageSize is the number of sync log rows per page.
const logPageSize = 20

// APIGetConnectionLogs returns paginated sync logs for a connection.
func (h *Handlers) APIGetConnectionLogs(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	page := 1
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}

	logs, err := h.db.GetSyncLogsByConnection(conn.ID, 1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load logs")})
		return
	}

	totalPages := (len(logs) + logPageSize - 1) / logPageSize
	if totalPages < 1 {
		totalPages = 1
	}

	start := (page - 1) * logPageSize
	end := start + logPageSize
	if start > len(logs) {
		start = len(logs)
	}
	if end > len(logs) {
		end = len(logs)
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":        logs[start:end],
		"page":        page,
		"total_pages": totalPages,
	})
}

// APIMalformedObject represents an unparseable remote object in API
// responses.
type APIMalformedObject struct {
	ID             string `json:"id"`
	ConnectionID   string `json:"connection_id"`
	ConnectionName string `json:"connection_name"`
	ObjectPath     string `json:"object_path"`
	ErrorMessage   string `json:"error_message"`
	DiscoveredAt   string `json:"discovered_at"`
}

func malformedToAPI(obj *db.MalformedObject, connectionName string) *APIMalformedObject {
	return &APIMalformedObject{
		ID:             obj.ID,
		ConnectionID:   obj.ConnectionID,
		ConnectionName: connectionName,
		ObjectPath:     obj.ObjectPath,
		ErrorMessage:   obj.ErrorMessage,
		DiscoveredAt:   obj.DiscoveredAt.Format(time.RFC3339),
	}
}

// APIGetMalformedObjects returns remote objects that failed parsing, for
// all connections or one selected via ?connection_id=.
func (h *Handlers) APIGetMalformedObjects(c *gin.Context) {
	var conns []*db.Connection

	if id := c.Query("connection_id"); id != "" {
		conn, err := h.db.GetConnection(id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
			return
		}
		conns = []*db.Connection{conn}
	} else {
		all, err := h.db.GetConnections()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connections")})
			return
		}
		conns = all
	}

	apiObjs := make([]*APIMalformedObject, 0)
	for _, conn := range conns {
		objs, err := h.db.GetMalformedObjects(conn.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load malformed objects")})
			return
		}
		for _, obj := range objs {
			apiObjs = append(apiObjs, malformedToAPI(obj, conn.Name))
		}
	}

	c.JSON(http.StatusOK, apiObjs)
}

// APIClearMalformedObjects drops the malformed-object records for a
// connection. The remote objects themselves are untouched; the next cycle
// records them again if they still fail to parse.
func (h *Handlers) APIClearMalformedObjects(c *gin.Context) {
	conn, err := h.db.GetConnection(c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load connection")})
		return
	}

	if err := h.db.ClearMalformedObjects(conn.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to clear malformed objects")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Malformed objects cleared"})
}
