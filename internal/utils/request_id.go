package utils

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDHeader string = echo.HeaderXRequestID

func GetRequestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// EnsureRequestID returns the request ID of the headers, generating one when missing.
func EnsureRequestID(header http.Header) string {
	id := header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
		header.Set(RequestIDHeader, id)
	}
	return id
}
