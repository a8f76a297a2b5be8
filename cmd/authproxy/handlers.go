package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/authclient"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/autherrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/refresh"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type sessionRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	Authenticated        bool       `json:"authenticated"`
	HasRefreshCredential bool       `json:"hasRefreshCredential"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
}

type server struct {
	client       *authclient.Client
	clientConfig config.ClientConfig
}

func (s *server) RegisterHandlers(e *echo.Echo, commonMiddlewares ...echo.MiddlewareFunc) {
	session := e.Group("/session", commonMiddlewares...)
	session.GET("", s.getSession)
	session.POST("", s.postSession)
	session.DELETE("", s.deleteSession)
	session.POST("/refresh", s.postRefresh)

	proxyMiddlewares := append(commonMiddlewares, stripCredentials(), propagateRequestID(), s.proxy())
	e.Group("/api", proxyMiddlewares...)
}

func (s *server) proxy() echo.MiddlewareFunc {
	target := s.clientConfig.BaseURL
	return middleware.ProxyWithConfig(middleware.ProxyConfig{
		Balancer: middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{
			{
				Name: target.String(),
				URL:  target,
			}}),
		Transport: s.client.Transport(),
	})
}

func (s *server) sessionState(c echo.Context) error {
	s.writeMirrorCookies(c)
	res := sessionResponse{
		Authenticated:        s.client.IsAuthenticated(),
		HasRefreshCredential: s.client.HasRefreshCredential(),
	}
	if cred := s.client.Credential(); cred != nil && cred.HasExpiry() {
		expiresAt := cred.ExpiresAt
		res.ExpiresAt = &expiresAt
	}
	return c.JSON(http.StatusOK, res)
}

func (s *server) getSession(c echo.Context) error {
	return s.sessionState(c)
}

func (s *server) postSession(c echo.Context) error {
	var req sessionRequest
	err := c.Bind(&req)
	if err != nil {
		return err
	}
	if req.AccessToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "the access token is required")
	}
	s.client.SetCredential(c.Request().Context(), req.AccessToken, req.RefreshToken)
	return s.sessionState(c)
}

func (s *server) deleteSession(c echo.Context) error {
	s.client.Logout(c.Request().Context())
	s.writeMirrorCookies(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *server) postRefresh(c echo.Context) error {
	_, err := s.client.RequestRefresh(c.Request().Context())
	switch {
	case err == nil:
		return s.sessionState(c)
	case errors.Is(err, autherrors.ErrRefreshCooldown):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, autherrors.ErrNoCredential):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		if !refresh.IsTransient(err) {
			if hub := sentryecho.GetHubFromContext(c); hub != nil {
				hub.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("component", "refresh")
					hub.CaptureException(err)
				})
			}
		}
		s.writeMirrorCookies(c)
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
}

func (s *server) writeMirrorCookies(c echo.Context) {
	cookies := s.client.CookieMirror()
	if cookies == nil {
		return
	}
	for _, cookie := range cookies.ResponseCookies() {
		c.SetCookie(cookie)
	}
}
