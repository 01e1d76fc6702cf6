package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/idempotency"
	"taskboard/api/internal/occ"
)

const (
	headerIfMatch          = "If-Match"
	headerETag             = "ETag"
	headerIdempotencyKey   = "Idempotency-Key"
	headerIdempotentReplay = "Idempotent-Replayed"

	callerKey = "caller"
)

type HTTPServer struct {
	service    *Service
	verifier   *auth.Verifier
	idem       idempotency.Store
	corsOrigin string
	heartbeat  time.Duration
}

func NewHTTPServer(service *Service, verifier *auth.Verifier, idem idempotency.Store, corsOrigin string) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{
		service:    service,
		verifier:   verifier,
		idem:       idem,
		corsOrigin: corsOrigin,
		heartbeat:  25 * time.Second,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestID())
	e.Use(accessLog)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{s.corsOrigin},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
			headerIfMatch, headerIdempotencyKey, echo.HeaderXRequestID,
		},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		ExposeHeaders: []string{headerETag, echo.HeaderXRequestID, headerIdempotentReplay},
	}))

	s.register(e)
	return e
}

func (s *HTTPServer) register(e *echo.Echo) {
	e.GET("/v1/health", s.health)
	e.GET("/v1/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"version": Version})
	})

	v1 := e.Group("/v1", s.requireCaller)
	v1.GET("/boards", s.listBoards)
	v1.POST("/boards", s.createBoard, s.idempotent)
	v1.POST("/invitations/accept", s.acceptInvitation)

	b := v1.Group("/boards/:boardId")
	b.GET("", s.getBoard)
	b.PATCH("", s.updateBoard)
	b.DELETE("", s.deleteBoard)
	b.POST("/transfer-ownership", s.transferOwnership)
	b.POST("/leave", s.leaveBoard)
	b.POST("/export", s.exportBoard)
	b.GET("/events", s.streamEvents)

	b.POST("/columns", s.createColumn, s.idempotent)
	b.PATCH("/columns/:columnId", s.updateColumn)
	b.DELETE("/columns/:columnId", s.deleteColumn)
	b.POST("/columns/:columnId/move", s.moveColumn)
	b.POST("/columns/:columnId/cards", s.createCard, s.idempotent)

	b.GET("/cards/search", s.searchCards)
	b.PATCH("/cards/:cardId", s.updateCard)
	b.DELETE("/cards/:cardId", s.deleteCard)
	b.POST("/cards/:cardId/move", s.moveCard)

	b.GET("/members", s.listMembers)
	b.POST("/members", s.addMember, s.idempotent)
	b.POST("/members/accept", s.acceptMembership)
	b.PATCH("/members/:userId", s.changeMemberRole)
	b.DELETE("/members/:userId", s.removeMember)

	b.GET("/invitations", s.listInvitations)
	b.POST("/invitations", s.invite, s.idempotent)
	b.DELETE("/invitations/:invitationId", s.revokeInvitation)
}

func (s *HTTPServer) health(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.service.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"ok":     false,
			"status": "not_ready",
			"checks": map[string]any{"database": map[string]any{"status": "error", "error": err.Error()}},
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"status": "ready",
		"checks": map[string]any{"database": map[string]any{"status": "ok"}},
	})
}

// requireCaller resolves the bearer identity. The event stream also accepts
// ?token= because EventSource cannot set headers.
func (s *HTTPServer) requireCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" && strings.HasSuffix(c.Path(), "/events") {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		userID, err := s.verifier.SubjectFromHeader(header)
		if err != nil {
			return translate(err)
		}
		c.Set(callerKey, userID)
		return next(c)
	}
}

func caller(c echo.Context) string {
	userID, _ := c.Get(callerKey).(string)
	return userID
}

func accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req, res := c.Request(), c.Response()
		entry := log.WithFields(log.Fields{
			"request_id":  res.Header().Get(echo.HeaderXRequestID),
			"method":      req.Method,
			"path":        req.URL.Path,
			"status":      res.Status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if userID := caller(c); userID != "" {
			entry = entry.WithField("user", userID)
		}
		if res.Status >= http.StatusInternalServerError {
			entry.Warn("request")
		} else {
			entry.Info("request")
		}
		return nil
	}
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request().URL.Path).Error("request failed")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = writeError(c, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(translate(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			return httpErr.Code, CodeNotFound, "Not found", nil
		case http.StatusMethodNotAllowed:
			return httpErr.Code, "METHOD_NOT_ALLOWED", "Method not allowed", nil
		case http.StatusBadRequest:
			return httpErr.Code, "INVALID_BODY", fmt.Sprint(httpErr.Message), nil
		}
		return httpErr.Code, http.StatusText(httpErr.Code), fmt.Sprint(httpErr.Message), nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	return c.JSON(status, response)
}

// decodeBody reads an optional JSON body into target.
func decodeBody(c echo.Context, target any) error {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Request body must be valid JSON: "+err.Error())
	}
	return nil
}

// ifMatch reads the optional If-Match precondition.
func ifMatch(c echo.Context) (occ.Precondition, error) {
	pre, err := occ.ParseETag(c.Request().Header.Get(headerIfMatch))
	if err != nil {
		return occ.Any(), translate(err)
	}
	return pre, nil
}

func withETag(c echo.Context, status int, version int64, payload any) error {
	c.Response().Header().Set(headerETag, occ.ETag(version))
	return c.JSON(status, payload)
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(name+" must be an integer", map[string]any{"field": name})
	}
	return v, nil
}
